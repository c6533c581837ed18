package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apillon/blockchain-service/db"
	"github.com/Apillon/blockchain-service/dbtypes"
)

type webhookConsumer struct {
	mutex   sync.Mutex
	batches [][]WebhookNotification
	headers []http.Header
	fail    bool

	server *httptest.Server
}

func newWebhookConsumer(t *testing.T) *webhookConsumer {
	t.Helper()

	consumer := &webhookConsumer{}
	consumer.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		consumer.mutex.Lock()
		defer consumer.mutex.Unlock()

		if consumer.fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		batch := []WebhookNotification{}
		err := json.NewDecoder(r.Body).Decode(&batch)
		require.NoError(t, err)
		consumer.batches = append(consumer.batches, batch)
		consumer.headers = append(consumer.headers, r.Header.Clone())
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(consumer.server.Close)
	return consumer
}

func (consumer *webhookConsumer) allNotifications() []WebhookNotification {
	consumer.mutex.Lock()
	defer consumer.mutex.Unlock()
	notifications := []WebhookNotification{}
	for _, batch := range consumer.batches {
		notifications = append(notifications, batch...)
	}
	return notifications
}

func insertTerminalItem(t *testing.T, database *db.Database, nonce int64, status dbtypes.TxStatus, referenceTable string, referenceId string) uint64 {
	t.Helper()

	hash := substrateRawTx(int(nonce))
	item := &dbtypes.TransactionQueueItem{
		Address:         "0xcrust1",
		Chain:           "CRUST",
		ChainType:       dbtypes.ChainTypeSubstrate,
		Nonce:           nonce,
		TransactionHash: &hash,
		RawTransaction:  substrateRawTx(int(nonce)),
		Status:          status,
	}
	if referenceTable != "" {
		item.ReferenceTable = &referenceTable
	}
	if referenceId != "" {
		item.ReferenceId = &referenceId
	}
	return insertTestQueueItem(t, database, item)
}

func TestWebhookDispatchStampsExactlyOnce(t *testing.T) {
	database := newTestDatabase(t)
	consumer := newWebhookConsumer(t)
	dispatcher := NewWebhookDispatcher(database, consumer.server.URL, nil, 10, time.Second, map[string]string{"Authorization": "Bearer test"})

	confirmedId := insertTerminalItem(t, database, 1, dbtypes.TxStatusConfirmed, "storage_orders", "order-1")
	failedId := insertTerminalItem(t, database, 2, dbtypes.TxStatusFailed, "storage_orders", "order-2")
	insertTerminalItem(t, database, 3, dbtypes.TxStatusPending, "storage_orders", "order-3")

	err := dispatcher.Run()
	require.NoError(t, err)

	notifications := consumer.allNotifications()
	require.Len(t, notifications, 2)
	byId := map[uint64]WebhookNotification{}
	for _, notification := range notifications {
		byId[notification.Id] = notification
	}
	assert.Equal(t, "CONFIRMED", byId[confirmedId].TransactionStatus)
	assert.Equal(t, "order-1", byId[confirmedId].ReferenceId)
	assert.Equal(t, "FAILED", byId[failedId].TransactionStatus)

	require.NotEmpty(t, consumer.headers)
	assert.Equal(t, "Bearer test", consumer.headers[0].Get("Authorization"))

	require.NotNil(t, database.GetQueueItem(confirmedId).WebhookTriggered)
	require.NotNil(t, database.GetQueueItem(failedId).WebhookTriggered)

	// a second run must not redeliver anything
	err = dispatcher.Run()
	require.NoError(t, err)
	assert.Len(t, consumer.allNotifications(), 2)
}

func TestWebhookDispatchFailureRollsBack(t *testing.T) {
	database := newTestDatabase(t)
	consumer := newWebhookConsumer(t)
	consumer.fail = true
	dispatcher := NewWebhookDispatcher(database, consumer.server.URL, nil, 10, time.Second, nil)

	itemId := insertTerminalItem(t, database, 1, dbtypes.TxStatusConfirmed, "", "")

	err := dispatcher.Run()
	require.ErrorIs(t, err, ErrDeliveryFailure)
	assert.Nil(t, database.GetQueueItem(itemId).WebhookTriggered, "failed delivery must leave the row unstamped")

	// once the consumer recovers the row is delivered
	consumer.fail = false
	err = dispatcher.Run()
	require.NoError(t, err)
	assert.Len(t, consumer.allNotifications(), 1)
	require.NotNil(t, database.GetQueueItem(itemId).WebhookTriggered)
}

func TestWebhookDispatchRoutesByReferenceTable(t *testing.T) {
	database := newTestDatabase(t)
	defaultConsumer := newWebhookConsumer(t)
	orderConsumer := newWebhookConsumer(t)
	dispatcher := NewWebhookDispatcher(database, defaultConsumer.server.URL, map[string]string{
		"storage_orders": orderConsumer.server.URL,
	}, 10, time.Second, nil)

	orderId := insertTerminalItem(t, database, 1, dbtypes.TxStatusConfirmed, "storage_orders", "order-1")
	otherId := insertTerminalItem(t, database, 2, dbtypes.TxStatusConfirmed, "payments", "pay-1")

	err := dispatcher.Run()
	require.NoError(t, err)

	orderNotifications := orderConsumer.allNotifications()
	require.Len(t, orderNotifications, 1)
	assert.Equal(t, orderId, orderNotifications[0].Id)

	defaultNotifications := defaultConsumer.allNotifications()
	require.Len(t, defaultNotifications, 1)
	assert.Equal(t, otherId, defaultNotifications[0].Id)
}

func TestWebhookDispatchDrainsInBatches(t *testing.T) {
	database := newTestDatabase(t)
	consumer := newWebhookConsumer(t)
	dispatcher := NewWebhookDispatcher(database, consumer.server.URL, nil, 2, time.Second, nil)

	for nonce := int64(1); nonce <= 5; nonce++ {
		insertTerminalItem(t, database, nonce, dbtypes.TxStatusConfirmed, "", "")
	}

	err := dispatcher.Run()
	require.NoError(t, err)

	assert.Len(t, consumer.allNotifications(), 5)
	assert.GreaterOrEqual(t, len(consumer.batches), 3, "batch size 2 must split 5 rows into at least 3 deliveries")
}
