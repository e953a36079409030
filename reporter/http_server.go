// This is a http type of reporter.
// It reads offers from the orchestrator and health from the chain
// monitors and publishes them on http routes.

package reporter

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chainweave/escrow-go/chainmonitor"
	"github.com/chainweave/escrow-go/orchestrator"
)

const (
	ROUTE_HELLO          = "/hello"
	ROUTE_OFFER          = "/offer"
	ROUTE_OFFERS_PUBLIC  = "/offers/public"
	ROUTE_OFFERS_USER    = "/offers/user"
	ROUTE_OFFERS_ADDRESS = "/offers/address"
	ROUTE_MONITORS       = "/monitors"
)

type HttpReporter struct {
	serverIP   string // listen ip
	serverPort string // listen port

	// upstream data sources
	orc      *orchestrator.Orchestrator
	monitors []*chainmonitor.Monitor
}

func NewHttpReporter(serverIP, serverPort string, orc *orchestrator.Orchestrator, monitors []*chainmonitor.Monitor) *HttpReporter {
	return &HttpReporter{
		serverIP:   serverIP,
		serverPort: serverPort,
		orc:        orc,
		monitors:   monitors,
	}
}

// Hook up routes & handlers
func (h *HttpReporter) SetupRouter() *gin.Engine {
	router := gin.Default()

	router.GET(ROUTE_HELLO, Hello)
	router.GET(ROUTE_OFFER, h.Offer)
	router.GET(ROUTE_OFFERS_PUBLIC, h.PublicOffers)
	router.GET(ROUTE_OFFERS_USER, h.OffersByUser)
	router.GET(ROUTE_OFFERS_ADDRESS, h.OffersByAddress)
	router.GET(ROUTE_MONITORS, h.Monitors)

	return router
}

// Hook up router & ip:port
func (h *HttpReporter) Run() {
	router := h.SetupRouter()
	address := h.serverIP + ":" + h.serverPort
	if err := router.Run(address); err != nil {
		panic(err)
	}
}

// Example route.
func Hello(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "world",
	})
}

func (h *HttpReporter) Offer(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing id"})
		return
	}
	offer, err := h.orc.GetOffer(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, offer)
}

func (h *HttpReporter) PublicOffers(c *gin.Context) {
	offers, err := h.orc.PublicOffers()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, offers)
}

func (h *HttpReporter) OffersByUser(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user_id"})
		return
	}
	offers, err := h.orc.OffersByUser(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, offers)
}

func (h *HttpReporter) OffersByAddress(c *gin.Context) {
	address := c.Query("address")
	if address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing address"})
		return
	}
	offers, err := h.orc.OffersByAddress(address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, offers)
}

// Monitors reports the per-chain watcher health.
func (h *HttpReporter) Monitors(c *gin.Context) {
	statuses := make([]chainmonitor.Status, 0, len(h.monitors))
	for _, m := range h.monitors {
		statuses = append(statuses, m.Status())
	}
	c.JSON(http.StatusOK, statuses)
}
