package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/b0x-token/data-mirror/internal/config"
)

const fallbackSecondsPerBlock = 2.0

// Runner samples on-chain prices into the rolling series file that the
// mirror serves.
type Runner struct {
	cfg config.MonitorConfig
	rpc *RPCClient
	log zerolog.Logger
}

// Result summarizes one monitor run.
type Result struct {
	TotalPoints   int
	TargetPoints  int
	Collected     int
	PrunedOld     int
	Deduplicated  int
	CurrentBlock  int64
	LatestPrice   float64
	CurrentSample bool
}

func NewRunner(cfg config.MonitorConfig, rpc *RPCClient, log zerolog.Logger) *Runner {
	return &Runner{cfg: cfg, rpc: rpc, log: log}
}

// Run refreshes the series: prunes samples that fell out of the window,
// deduplicates per sampling time, backfills missing historical samples, and
// records the current price.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	series, err := LoadSeries(r.cfg.DataFile)
	if err != nil {
		return nil, err
	}
	r.log.Info().Int("points", len(series.Points)).Str("file", r.cfg.DataFile).Msg("series loaded")

	now := time.Now().UTC()
	result := &Result{}
	result.PrunedOld = series.EnforceWindow(now, r.cfg.WindowDays, r.cfg.TargetHours, r.cfg.Tolerance)
	result.Deduplicated = series.Dedup(r.cfg.TargetHours, r.cfg.Tolerance)

	currentBlock, err := r.rpc.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	currentTS, err := r.rpc.BlockTimestamp(ctx, currentBlock)
	if err != nil {
		return nil, err
	}
	result.CurrentBlock = currentBlock
	r.log.Info().Int64("block", currentBlock).Time("time", time.Unix(currentTS, 0).UTC()).Msg("chain head")

	result.Collected = r.collectHistorical(ctx, series, currentBlock, currentTS)

	// Backfill may have pulled samples just outside the window again.
	result.PrunedOld += series.EnforceWindow(now, r.cfg.WindowDays, r.cfg.TargetHours, r.cfg.Tolerance)

	price, err := r.samplePrice(ctx, currentBlock)
	if err != nil {
		r.log.Error().Err(err).Msg("current price sample failed")
	} else {
		series.SetCurrent(r.cfg.TargetHours, r.cfg.Tolerance, Point{Timestamp: currentTS, Block: currentBlock, Price: price})
		result.LatestPrice = price
		result.CurrentSample = true
	}

	if err := series.Save(r.cfg.DataFile); err != nil {
		return nil, err
	}

	result.TotalPoints = len(series.Points)
	for _, p := range series.Points {
		if IsTargetTime(p.Timestamp, r.cfg.TargetHours, r.cfg.Tolerance) {
			result.TargetPoints++
		}
	}
	return result, nil
}

// collectHistorical fills in missing sampling times. Failures on individual
// points are logged and skipped; a partially backfilled series is still
// useful and the next run retries.
func (r *Runner) collectHistorical(ctx context.Context, series *Series, currentBlock, currentTS int64) int {
	missing := series.MissingTargets(time.Unix(currentTS, 0).UTC(), r.cfg.WindowDays, r.cfg.TargetHours, r.cfg.Tolerance)
	if len(missing) == 0 {
		return 0
	}
	r.log.Info().Int("count", len(missing)).Msg("backfilling historical samples")

	secondsPerBlock := r.estimateSecondsPerBlock(ctx, currentBlock, currentTS)
	collected := 0

	for i, target := range missing {
		block, actualTS, err := r.locateBlock(ctx, target, currentBlock, currentTS, secondsPerBlock)
		if err != nil {
			r.log.Error().Err(err).Int64("target", target).Msg("block lookup failed")
			continue
		}
		price, err := r.samplePrice(ctx, block)
		if err != nil {
			r.log.Error().Err(err).Int64("block", block).Msg("price sample failed")
			continue
		}
		series.Insert(Point{Timestamp: actualTS, Block: block, Price: price})
		collected++

		if collected%10 == 0 {
			if err := series.Save(r.cfg.DataFile); err != nil {
				r.log.Warn().Err(err).Msg("progress save failed")
			}
		}
		r.log.Debug().Int("done", i+1).Int("total", len(missing)).Int64("block", block).Float64("price", price).Msg("sample collected")
	}
	return collected
}

// estimateSecondsPerBlock measures the block rate from a sample roughly a
// day back, falling back to the chain's nominal rate.
func (r *Runner) estimateSecondsPerBlock(ctx context.Context, currentBlock, currentTS int64) float64 {
	sampleBlock := currentBlock - int64(24*60*60/fallbackSecondsPerBlock)
	if sampleBlock < 1 {
		sampleBlock = 1
	}
	sampleTS, err := r.rpc.BlockTimestamp(ctx, sampleBlock)
	if err != nil {
		r.log.Warn().Err(err).Msg("block rate sample failed, using fallback")
		return fallbackSecondsPerBlock
	}
	blockDiff := currentBlock - sampleBlock
	timeDiff := currentTS - sampleTS
	if blockDiff <= 0 || timeDiff <= 0 {
		return fallbackSecondsPerBlock
	}
	return float64(timeDiff) / float64(blockDiff)
}

// locateBlock estimates the block at a target timestamp and refines the
// estimate until the block's actual timestamp is within tolerance.
func (r *Runner) locateBlock(ctx context.Context, target, currentBlock, currentTS int64, secondsPerBlock float64) (int64, int64, error) {
	estimated := currentBlock - int64(float64(currentTS-target)/secondsPerBlock)
	if estimated < 1 {
		estimated = 1
	}

	actualTS, err := r.rpc.BlockTimestamp(ctx, estimated)
	if err != nil {
		return 0, 0, err
	}

	tol := int64(r.cfg.Tolerance.Seconds())
	for attempts := 0; abs64(actualTS-target) > tol && attempts < 10; attempts++ {
		diff := target - actualTS
		estimated += int64(float64(diff) / fallbackSecondsPerBlock)
		if estimated < 1 {
			estimated = 1
		}
		actualTS, err = r.rpc.BlockTimestamp(ctx, estimated)
		if err != nil {
			return 0, 0, err
		}
	}
	return estimated, actualTS, nil
}

// samplePrice reads both pool slots at a block and combines them into the
// token's USD price.
func (r *Runner) samplePrice(ctx context.Context, block int64) (float64, error) {
	tokenWord, err := r.rpc.StorageAt(ctx, r.cfg.PoolManager, r.cfg.TokenSlot, block)
	if err != nil {
		return 0, err
	}
	tokenPrice := PriceFromSqrtX96(UnpackSlot0(tokenWord).SqrtPriceX96)

	usdWord, err := r.rpc.StorageAt(ctx, r.cfg.PoolManager, r.cfg.USDSlot, block)
	if err != nil {
		return 0, err
	}
	usdPrice := PriceFromSqrtX96(UnpackSlot0(usdWord).SqrtPriceX96)

	return TokenUSDPrice(tokenPrice, usdPrice), nil
}
