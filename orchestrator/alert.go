package orchestrator

import (
	logger "github.com/sirupsen/logrus"
)

// Alerter receives the conditions that need a human: partial releases,
// refunds that keep failing. The default just logs at error level;
// deployments plug in paging here.
type Alerter interface {
	Alert(offerID, subject, detail string)
}

type LogAlerter struct{}

func (LogAlerter) Alert(offerID, subject, detail string) {
	logger.WithFields(logger.Fields{
		"offer":   offerID,
		"subject": subject,
	}).Error(detail)
}
