package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/Apillon/blockchain-service/db"
	"github.com/Apillon/blockchain-service/dbtypes"
)

var logger_wd = logrus.StandardLogger().WithField("module", "webhook_dispatcher")

// WebhookNotification is one entry of a delivered batch. Consumers must
// treat a repeated (referenceTable, referenceId, transactionStatus) tuple
// as a no-op: a crash between delivery and commit causes at most one
// redelivery of the identical batch.
type WebhookNotification struct {
	Id                uint64 `json:"id"`
	TransactionHash   string `json:"transactionHash"`
	ReferenceTable    string `json:"referenceTable"`
	ReferenceId       string `json:"referenceId"`
	TransactionStatus string `json:"transactionStatus"`
}

// WebhookDispatcher notifies originating services about terminal
// transactions. Rows are selected and stamped in the same DB transaction
// the batch is delivered in, which makes delivery at-least-once and
// effectively-once per row.
type WebhookDispatcher struct {
	database    *db.Database
	defaultUrl  string
	consumers   map[string]string
	batchSize   int
	authHeaders map[string]string
	httpClient  *http.Client
}

func NewWebhookDispatcher(database *db.Database, defaultUrl string, consumers map[string]string, batchSize int, sendTimeout time.Duration, authHeaders map[string]string) *WebhookDispatcher {
	if batchSize <= 0 {
		batchSize = 10
	}
	if sendTimeout == 0 {
		sendTimeout = 30 * time.Second
	}
	if consumers == nil {
		consumers = map[string]string{}
	}
	return &WebhookDispatcher{
		database:    database,
		defaultUrl:  defaultUrl,
		consumers:   consumers,
		batchSize:   batchSize,
		authHeaders: authHeaders,
		httpClient: &http.Client{
			Timeout: sendTimeout,
		},
	}
}

// Run drains the webhook outbox in batches until no eligible rows remain
// or a delivery fails. A failed batch is rolled back as a whole and
// retried on the next scheduled run.
func (wd *WebhookDispatcher) Run() error {
	for {
		processed, err := wd.dispatchBatch()
		if err != nil {
			return err
		}
		if processed == 0 {
			return nil
		}
	}
}

// dispatchBatch selects up to batchSize terminal unnotified rows under
// lock (SKIP LOCKED on pgsql, so concurrent dispatchers work disjoint
// batches), delivers them grouped per consumer and stamps
// webhook_triggered before committing. Any delivery error rolls back the
// whole selection.
func (wd *WebhookDispatcher) dispatchBatch() (int, error) {
	processed := 0
	err := wd.database.RunDBTransaction(func(tx *sqlx.Tx) error {
		items, err := wd.database.GetWebhookPendingItems(tx, uint32(wd.batchSize))
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}

		groups := map[string][]*dbtypes.TransactionQueueItem{}
		for _, item := range items {
			groups[wd.consumerUrl(item)] = append(groups[wd.consumerUrl(item)], item)
		}

		ids := make([]uint64, 0, len(items))
		for destination, groupItems := range groups {
			err := wd.deliver(destination, groupItems)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrDeliveryFailure, err)
			}
			for _, item := range groupItems {
				ids = append(ids, item.Id)
			}
		}

		err = wd.database.SetWebhookTriggered(tx, ids, time.Now().Unix())
		if err != nil {
			return err
		}
		processed = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if processed > 0 {
		logger_wd.Infof("dispatched %v webhook notifications", processed)
	}
	return processed, nil
}

func (wd *WebhookDispatcher) consumerUrl(item *dbtypes.TransactionQueueItem) string {
	if item.ReferenceTable != nil {
		if url, ok := wd.consumers[*item.ReferenceTable]; ok {
			return url
		}
	}
	return wd.defaultUrl
}

// deliver POSTs one batch to its consumer; any non-2xx response counts as
// a missing ack.
func (wd *WebhookDispatcher) deliver(destination string, items []*dbtypes.TransactionQueueItem) error {
	if destination == "" {
		return fmt.Errorf("no consumer url configured")
	}

	notifications := make([]*WebhookNotification, len(items))
	for i, item := range items {
		notification := &WebhookNotification{
			Id:                item.Id,
			TransactionStatus: item.Status.String(),
		}
		if item.TransactionHash != nil {
			notification.TransactionHash = *item.TransactionHash
		}
		if item.ReferenceTable != nil {
			notification.ReferenceTable = *item.ReferenceTable
		}
		if item.ReferenceId != nil {
			notification.ReferenceId = *item.ReferenceId
		}
		notifications[i] = notification
	}

	payload, err := json.Marshal(notifications)
	if err != nil {
		return err
	}

	req, err := http.NewRequest("POST", destination, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for name, value := range wd.authHeaders {
		req.Header.Set(name, value)
	}

	resp, err := wd.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("consumer %v returned status %v", destination, resp.StatusCode)
	}
	return nil
}
