package btcman

import (
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	logger "github.com/sirupsen/logrus"
)

// Client fans bitcoind RPC calls across an ordered endpoint list: the
// primary first, then the alternates on error.
type Client struct {
	clients []*rpcclient.Client
}

func NewClient(endpoints []RPCEndpoint) (*Client, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no bitcoin rpc endpoints configured")
	}

	c := &Client{}
	for _, ep := range endpoints {
		cl, err := rpcclient.New(&rpcclient.ConnConfig{
			Host:         ep.Host + ":" + ep.Port,
			User:         ep.Username,
			Pass:         ep.Password,
			HTTPPostMode: true,
			DisableTLS:   true,
		}, nil)
		if err != nil {
			return nil, err
		}
		c.clients = append(c.clients, cl)
	}
	return c, nil
}

func (c *Client) Close() {
	for _, cl := range c.clients {
		cl.Shutdown()
	}
}

// do tries each endpoint in order until one answers.
func (c *Client) do(op string, fn func(*rpcclient.Client) error) error {
	var lastErr error
	for i, cl := range c.clients {
		if err := fn(cl); err != nil {
			logger.WithFields(logger.Fields{
				"op":       op,
				"endpoint": i,
			}).Warnf("bitcoin rpc call failed, trying next endpoint: %v", err)
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("%s failed on all %d endpoints: %v", op, len(c.clients), lastErr)
}

func (c *Client) SendToAddress(addr btcutil.Address, amount btcutil.Amount) (*chainhash.Hash, error) {
	var txid *chainhash.Hash
	err := c.do("sendtoaddress", func(cl *rpcclient.Client) error {
		h, err := cl.SendToAddress(addr, amount)
		if err != nil {
			return err
		}
		txid = h
		return nil
	})
	return txid, err
}

func (c *Client) GetTxVerbose(txid string) (*btcjson.TxRawResult, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, err
	}
	var res *btcjson.TxRawResult
	err = c.do("getrawtransaction", func(cl *rpcclient.Client) error {
		r, err := cl.GetRawTransactionVerbose(hash)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	return res, err
}

func (c *Client) GetTx(txid string) (*btcutil.Tx, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, err
	}
	var tx *btcutil.Tx
	err = c.do("getrawtransaction", func(cl *rpcclient.Client) error {
		t, err := cl.GetRawTransaction(hash)
		if err != nil {
			return err
		}
		tx = t
		return nil
	})
	return tx, err
}

func (c *Client) ListUnspentByAddress(addr btcutil.Address) ([]btcjson.ListUnspentResult, error) {
	var res []btcjson.ListUnspentResult
	err := c.do("listunspent", func(cl *rpcclient.Client) error {
		r, err := cl.ListUnspentMinMaxAddresses(0, 9999999, []btcutil.Address{addr})
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	return res, err
}

// SignWithKey signs with the provided WIF keys only (the admin slot).
func (c *Client) SignWithKey(tx *wire.MsgTx, inputs []btcjson.RawTxInput, wifs []string) (*wire.MsgTx, bool, error) {
	var signed *wire.MsgTx
	var complete bool
	err := c.do("signrawtransaction", func(cl *rpcclient.Client) error {
		s, ok, err := cl.SignRawTransaction3(tx, inputs, wifs)
		if err != nil {
			return err
		}
		signed, complete = s, ok
		return nil
	})
	return signed, complete, err
}

// SignWithWallet lets the escrow node wallet add the party co-signature,
// merging with any signatures already present.
func (c *Client) SignWithWallet(tx *wire.MsgTx, inputs []btcjson.RawTxInput) (*wire.MsgTx, bool, error) {
	var signed *wire.MsgTx
	var complete bool
	err := c.do("signrawtransaction", func(cl *rpcclient.Client) error {
		s, ok, err := cl.SignRawTransaction2(tx, inputs)
		if err != nil {
			return err
		}
		signed, complete = s, ok
		return nil
	})
	return signed, complete, err
}

func (c *Client) SendRawTransaction(tx *wire.MsgTx) (*chainhash.Hash, error) {
	var txid *chainhash.Hash
	err := c.do("sendrawtransaction", func(cl *rpcclient.Client) error {
		h, err := cl.SendRawTransaction(tx, false)
		if err != nil {
			return err
		}
		txid = h
		return nil
	})
	return txid, err
}
