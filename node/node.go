// Package node wires the components of the rollup node together: the SQL
// stores, the state tree, the L1 clients, the coordinator, the
// synchronizer and the HTTP API.
package node

import (
	"context"
	"errors"
	"net/http"
	"time"

	"zkrollup-node/api"
	"zkrollup-node/common"
	"zkrollup-node/config"
	"zkrollup-node/coordinator"
	"zkrollup-node/coordinator/prover"
	"zkrollup-node/database"
	"zkrollup-node/database/historydb"
	"zkrollup-node/database/l2db"
	"zkrollup-node/database/statedb"
	"zkrollup-node/eth"
	"zkrollup-node/log"
	"zkrollup-node/synchronizer"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
)

// Node is the top level struct of the rollup node
type Node struct {
	coord *coordinator.Coordinator
	sync  *synchronizer.Synchronizer

	apiServer *http.Server

	cfg     *config.Config
	sqlConn *sqlx.DB

	historyDB *historydb.HistoryDB
	l2DB      *l2db.L2DB
	stateDB   *statedb.StateDB
}

// NewNode creates a Node from the configuration: it connects and
// migrates the database, recovers interrupted coordinator work, builds
// the state tree from the account store and prepares the HTTP API.
func NewNode(cfg *config.Config) (*Node, error) {
	db, err := database.InitSQLDB(cfg.PostgreSQL.URL)
	if err != nil {
		return nil, common.Wrap(err)
	}
	apiConnCon := database.NewAPIConnectionController(
		cfg.API.MaxSQLConnections, cfg.API.SQLConnectionTimeout.Duration)
	historyDB := historydb.NewHistoryDB(db, db, apiConnCon)
	l2DB := l2db.NewL2DB(db, db, apiConnCon)

	stateDB, err := statedb.NewStateDB(statedb.Config{
		Depth: cfg.StateDB.Depth,
	}, historyDB)
	if err != nil {
		return nil, common.Wrap(err)
	}

	ethClient, err := eth.NewEthereumClient(cfg.Web3.URL, cfg.Web3.PrivateKey)
	if err != nil {
		return nil, common.Wrap(err)
	}
	rollup, err := eth.NewRollupClient(ethClient,
		ethCommon.HexToAddress(cfg.Web3.RollupAddress),
		cfg.Web3.EventPollInterval.Duration)
	if err != nil {
		return nil, common.Wrap(err)
	}
	log.Infow("ethereum client ready",
		"sequencer", ethClient.EthAddress().Hex(),
		"rollup", rollup.RollupAddress().Hex())

	proofClient := prover.NewProofServerClient(cfg.Coordinator.Prover.URL,
		cfg.Coordinator.Prover.PollInterval.Duration)

	coord, err := coordinator.NewCoordinator(coordinator.Config{
		ForgeInterval:     cfg.Coordinator.ForgeInterval.Duration,
		ProverWaitTimeout: cfg.Coordinator.Prover.WaitTimeout.Duration,
	}, historyDB, l2DB, stateDB, proofClient, rollup)
	if err != nil {
		return nil, common.Wrap(err)
	}

	// Build the tree after coordinator recovery so reverted balances are
	// reflected, then compare against the root attested on L1.
	if err := stateDB.Sync(); err != nil {
		return nil, common.Wrap(err)
	}
	l2Root, err := stateDB.Root()
	if err != nil {
		return nil, common.Wrap(err)
	}
	if l1Root, err := rollup.RollupStateRoot(); err != nil {
		log.Warnw("can not read L1 state root", "err", err)
	} else if l1Root.Cmp(l2Root) != 0 {
		log.Warnw("L1 root differs from local root; pending batches will converge it",
			"l1Root", l1Root.String(), "l2Root", l2Root.String())
	}

	sync := synchronizer.NewSynchronizer(rollup, historyDB, l2DB, stateDB)

	gin.SetMode(gin.ReleaseMode)
	server := gin.Default()
	server.Use(cors.Default())
	if _, err := api.NewAPI(api.Config{
		Server:    server,
		HistoryDB: historyDB,
		L2DB:      l2DB,
		StateDB:   stateDB,
		Rollup:    rollup,
	}); err != nil {
		return nil, common.Wrap(err)
	}
	apiServer := &http.Server{
		Addr:              cfg.API.Address,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &Node{
		coord:     coord,
		sync:      sync,
		apiServer: apiServer,
		cfg:       cfg,
		sqlConn:   db,
		historyDB: historyDB,
		l2DB:      l2DB,
		stateDB:   stateDB,
	}, nil
}

// Start the node
func (n *Node) Start() {
	log.Info("Starting node...")
	n.coord.Start()
	n.sync.Start()
	go func() {
		log.Infow("API server listening", "addr", n.apiServer.Addr)
		if err := n.apiServer.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("API server failed", "err", err)
		}
	}()
}

// Stop the node
func (n *Node) Stop() {
	log.Infow("Stopping node...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.apiServer.Shutdown(ctx); err != nil {
		log.Errorw("API server shutdown failed", "err", err)
	}
	n.sync.Stop()
	n.coord.Stop()
	if err := n.sqlConn.Close(); err != nil {
		log.Errorw("closing the database connection failed", "err", err)
	}
}
