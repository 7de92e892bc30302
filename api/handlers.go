package api

import (
	"database/sql"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"zkrollup-node/common"
	"zkrollup-node/log"

	"github.com/gin-gonic/gin"
)

type errorMsg struct {
	Message string `json:"message"`
}

func badReq(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorMsg{Message: err.Error()})
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, errorMsg{Message: "not found"})
}

func internalErr(c *gin.Context, err error) {
	log.Errorw("api: internal error", "path", c.Request.URL.Path, "err", err)
	c.JSON(http.StatusInternalServerError, errorMsg{Message: "internal error"})
}

// bigIntStr decodes a decimal big integer from a JSON string or number
type bigIntStr big.Int

func (b *bigIntStr) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return common.Wrap(errors.New("invalid decimal integer"))
	}
	*b = bigIntStr(*v)
	return nil
}

func (b *bigIntStr) BigInt() *big.Int {
	return (*big.Int)(b)
}

func (a *API) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"rollupAddress": a.rollup.RollupAddress().Hex(),
	})
}

func (a *API) getState(c *gin.Context) {
	l2Root, err := a.stateDB.Root()
	if err != nil {
		internalErr(c, err)
		return
	}
	l1Root, err := a.rollup.RollupStateRoot()
	if err != nil {
		internalErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"l2Root": l2Root.String(),
		"l1Root": l1Root.String(),
	})
}

func (a *API) getAccount(c *gin.Context) {
	idx, err := parseIdx(c.Param("index"), a.stateDB.Tree().NLeaves())
	if err != nil {
		badReq(c, err)
		return
	}
	acc, err := a.historyDB.GetAccountAPI(idx)
	if errors.Is(common.Unwrap(err), common.ErrAccountNotFound) {
		notFound(c)
		return
	}
	if err != nil {
		internalErr(c, err)
		return
	}
	c.JSON(http.StatusOK, acc)
}

type accountRequest struct {
	Index   *uint64    `json:"index" validate:"required"`
	Address string     `json:"address" validate:"required"`
	Pubkey  *bigIntStr `json:"pubkey" validate:"required"`
}

// postAccount registers an L2 account with a zero balance.  Funding
// happens through an L1 deposit.
func (a *API) postAccount(c *gin.Context) {
	var req accountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badReq(c, err)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		badReq(c, err)
		return
	}
	if *req.Index >= a.stateDB.Tree().NLeaves() {
		badReq(c, common.ErrIdxOutOfRange)
		return
	}
	acc := &common.Account{
		Idx:     common.Idx(*req.Index),
		EthAddr: req.Address,
		Pubkey:  req.Pubkey.BigInt(),
		Balance: big.NewInt(0),
	}
	if err := a.historyDB.AddAccount(acc); err != nil {
		internalErr(c, err)
		return
	}
	if err := a.stateDB.Sync(); err != nil {
		internalErr(c, err)
		return
	}
	c.JSON(http.StatusOK, acc)
}

type transferRequest struct {
	FromIdx *uint64    `json:"from" validate:"required"`
	ToIdx   *uint64    `json:"to" validate:"required"`
	Amount  *bigIntStr `json:"amount" validate:"required"`
}

func (a *API) postTransfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badReq(c, err)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		badReq(c, err)
		return
	}
	nLeaves := a.stateDB.Tree().NLeaves()
	if *req.FromIdx >= nLeaves || *req.ToIdx >= nLeaves {
		badReq(c, common.ErrIdxOutOfRange)
		return
	}
	amount := req.Amount.BigInt()
	if amount.Sign() < 0 {
		badReq(c, errors.New("negative amount"))
		return
	}
	id, err := a.l2DB.AddTx(common.TxTypeTransfer,
		common.Idx(*req.FromIdx), common.Idx(*req.ToIdx), amount)
	if err != nil {
		internalErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"txId":   id,
		"status": "pending",
	})
}

func (a *API) getTransaction(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badReq(c, errors.New("invalid transaction id"))
		return
	}
	tx, err := a.l2DB.GetTxAPI(id)
	if errors.Is(common.Unwrap(err), sql.ErrNoRows) {
		notFound(c)
		return
	}
	if err != nil {
		internalErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": tx.Status})
}

const explorerTxLimit = 20

func (a *API) getExplorerTxs(c *gin.Context) {
	txs, err := a.l2DB.GetRecentTxsAPI(explorerTxLimit)
	if err != nil {
		internalErr(c, err)
		return
	}
	c.JSON(http.StatusOK, txs)
}

func parseIdx(s string, nLeaves uint64) (common.Idx, error) {
	idx, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, common.Wrap(errors.New("invalid account index"))
	}
	if idx >= nLeaves {
		return 0, common.Wrap(common.ErrIdxOutOfRange)
	}
	return common.Idx(idx), nil
}
