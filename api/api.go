/*
Package api serves the HTTP surface of the node: public configuration,
the current L1 and L2 roots, account and transaction lookups, transfer
submission and the explorer feed.  The API never mutates balances; a
transfer submission only appends a PENDING row to the mempool.
*/
package api

import (
	"errors"

	"zkrollup-node/database/historydb"
	"zkrollup-node/database/l2db"
	"zkrollup-node/database/statedb"
	"zkrollup-node/eth"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// API serves HTTP requests to allow external interaction with the node
type API struct {
	historyDB *historydb.HistoryDB
	l2DB      *l2db.L2DB
	stateDB   *statedb.StateDB
	rollup    eth.RollupInterface
	validate  *validator.Validate
}

// Config wraps the parameters needed to start the API
type Config struct {
	Server    *gin.Engine
	HistoryDB *historydb.HistoryDB
	L2DB      *l2db.L2DB
	StateDB   *statedb.StateDB
	Rollup    eth.RollupInterface
}

// NewAPI sets the endpoints and the appropriate handlers, but doesn't
// start the server
func NewAPI(setup Config) (*API, error) {
	if setup.HistoryDB == nil || setup.L2DB == nil || setup.StateDB == nil {
		return nil, errors.New("cannot serve the API without the stores")
	}
	a := &API{
		historyDB: setup.HistoryDB,
		l2DB:      setup.L2DB,
		stateDB:   setup.StateDB,
		rollup:    setup.Rollup,
		validate:  validator.New(),
	}

	setup.Server.GET("/config", a.getConfig)
	setup.Server.GET("/state", a.getState)
	setup.Server.GET("/account/:index", a.getAccount)
	setup.Server.POST("/account", a.postAccount)
	setup.Server.POST("/transfer", a.postTransfer)
	setup.Server.GET("/transaction/:id", a.getTransaction)
	setup.Server.GET("/explorer/transactions", a.getExplorerTxs)
	setup.Server.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return a, nil
}
