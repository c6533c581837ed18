package db

import (
	"github.com/jmoiron/sqlx"

	"github.com/Apillon/blockchain-service/dbtypes"
)

// GetEndpoints returns the active RPC endpoints for a chain, best ranked
// first (lowest priority value wins). Endpoints are immutable reference
// data, so no locking is involved.
func (database *Database) GetEndpoints(chain string, chainType dbtypes.ChainType) []*dbtypes.Endpoint {
	endpoints := []*dbtypes.Endpoint{}
	err := database.ReaderDb.Select(&endpoints, `
	SELECT
		id, url, chain, chain_type, priority, status
	FROM endpoints
	WHERE chain = $1 AND chain_type = $2 AND status = $3
	ORDER BY priority ASC, id ASC
	`, chain, chainType, dbtypes.RowStatusActive)
	if err != nil {
		logger.Errorf("Error while fetching endpoints for %v: %v", chain, err)
		return nil
	}
	return endpoints
}

// InsertEndpoint registers an RPC endpoint and returns its id.
func (database *Database) InsertEndpoint(tx *sqlx.Tx, endpoint *dbtypes.Endpoint) (uint64, error) {
	var id uint64
	err := tx.Get(&id, database.EngineQuery(map[dbtypes.DBEngineType]string{
		dbtypes.DBEngineAny: `
			INSERT INTO endpoints (
				url, chain, chain_type, priority, status
			) VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
	}),
		endpoint.Url, endpoint.Chain, endpoint.ChainType, endpoint.Priority, endpoint.Status)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetDistinctChains lists every (chain, chain_type) pair that has at least
// one active endpoint configured.
func (database *Database) GetDistinctChains() []*dbtypes.Endpoint {
	chains := []*dbtypes.Endpoint{}
	err := database.ReaderDb.Select(&chains, `
	SELECT
		MIN(id) AS id, MIN(url) AS url, chain, chain_type, MIN(priority) AS priority, MIN(status) AS status
	FROM endpoints
	WHERE status = $1
	GROUP BY chain, chain_type
	ORDER BY chain ASC
	`, dbtypes.RowStatusActive)
	if err != nil {
		logger.Errorf("Error while fetching distinct chains: %v", err)
		return nil
	}
	return chains
}
