package syncer

import "fmt"

// Stages of a sync pass, used in PassError and as the error metric label.
const (
	StageBlock       = "block"
	StageFetch       = "fetch"
	StageFilter      = "filter"
	StageResolve     = "resolve"
	StageWritePools  = "write_pools"
	StageWriteTokens = "write_tokens"
	StagePrices      = "prices"
)

// PassError reports the stage at which a sync pass failed.
type PassError struct {
	ChainID int64
	Block   uint64
	Stage   string
	Err     error
}

func (e *PassError) Error() string {
	return fmt.Sprintf("sync network %d block %d: %s: %v", e.ChainID, e.Block, e.Stage, e.Err)
}

func (e *PassError) Unwrap() error {
	return e.Err
}
