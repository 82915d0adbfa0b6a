package dposcore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/vechain/thor/v2/thor"

	"github.com/vechain/dposcore/audit"
	"github.com/vechain/dposcore/config"
	"github.com/vechain/dposcore/consensus"
	"github.com/vechain/dposcore/errs"
	"github.com/vechain/dposcore/excel"
	"github.com/vechain/dposcore/genesis"
	"github.com/vechain/dposcore/influxdb"
	"github.com/vechain/dposcore/kv"
	"github.com/vechain/dposcore/stats"
)

type Options struct {
	DataDir      string // empty keeps the store in memory
	Genesis      string
	Calls        string
	AuditWorkers int

	InfluxURL    string // empty disables stats export
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
}

type Cmd struct {
	opts    Options
	genesis *genesis.Genesis
	db      *kv.LevelDB
	engine  *consensus.Engine
	influx  *influxdb.DB
	pool    *stats.WorkerPool
}

// Summary is the outcome of Run.
type Summary struct {
	Committed int           `json:"committed"`
	Rejected  int           `json:"rejected"`
	Audit     *audit.Report `json:"audit"`
}

// LoadGenesis reads a JSON or XLSX genesis, chosen by file extension.
func LoadGenesis(path string) (*genesis.Genesis, error) {
	var (
		g   *genesis.Genesis
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		g, err = excel.ParseGenesisFromXLSX(path)
	default:
		g, err = genesis.LoadJSON(path)
	}
	if err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func New(opts Options) (*Cmd, error) {
	slog.Info("initializing dposcore",
		"data-dir", opts.DataDir,
		"genesis", opts.Genesis,
		"calls", opts.Calls,
		"influx-url", opts.InfluxURL,
	)
	if opts.Genesis == "" {
		return nil, errors.New(config.ErrGenesisRequired)
	}
	g, err := LoadGenesis(opts.Genesis)
	if err != nil {
		slog.Error("failed to load genesis", "path", opts.Genesis, "error", err)
		return nil, err
	}

	var db *kv.LevelDB
	if opts.DataDir == "" {
		db, err = kv.OpenMem()
	} else {
		db, err = kv.Open(opts.DataDir)
	}
	if err != nil {
		return nil, fmt.Errorf(config.ErrFailedToOpenStore, err)
	}

	engine, err := consensus.New(db, g.Params)
	if err != nil {
		db.Close()
		return nil, err
	}
	cmd := &Cmd{opts: opts, genesis: g, db: db, engine: engine}

	if opts.InfluxURL != "" {
		influx, err := influxdb.New(opts.InfluxURL, opts.InfluxToken, opts.InfluxOrg, opts.InfluxBucket)
		if err != nil {
			db.Close()
			return nil, err
		}
		tags, err := chainTags(g)
		if err != nil {
			influx.Close()
			db.Close()
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), config.DefaultTimeout)
		latest, err := influx.LatestRound(ctx)
		cancel()
		if err != nil {
			slog.Warn("failed to read latest exported round", "error", err)
		} else {
			slog.Info("stats export resumes", "latest-exported-round", latest)
		}
		cmd.influx = influx
		cmd.pool = stats.NewWorkerPool(config.DefaultWorkerPoolSize, config.DefaultTaskQueueSize, influx)
		engine.Subscribe(stats.NewObserver(cmd.pool, stats.NewWriter(tags).Handlers()))
	}
	return cmd, nil
}

// chainTags identifies the chain by the hash of its genesis.
func chainTags(g *genesis.Genesis) (map[string]string, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf(config.ErrFailedToEncode, "genesis", err)
	}
	id := thor.Blake2b(data)
	return map[string]string{"chain": id.String()[:18]}, nil
}

func (c *Cmd) Engine() *consensus.Engine {
	return c.engine
}

// Run bootstraps the chain if the store is empty, replays the calls file and
// audits the resulting history.
func (c *Cmd) Run(ctx context.Context) (*Summary, error) {
	if err := c.bootstrap(); err != nil {
		return nil, err
	}

	summary := &Summary{}
	if c.opts.Calls != "" {
		f, err := os.Open(c.opts.Calls)
		if err != nil {
			return nil, errors.Wrap(err, "open calls")
		}
		defer f.Close()
		if err := c.replay(ctx, NewReader(f), summary); err != nil {
			return nil, err
		}
	}

	params := c.engine.Params()
	report, err := audit.New(c.db, &params, c.opts.AuditWorkers).Run(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range report.Findings {
		slog.Warn("audit finding", "term", f.Term, "round", f.Round, "slot", f.Slot, "reason", f.Reason)
	}
	summary.Audit = report
	return summary, nil
}

func (c *Cmd) bootstrap() error {
	_, err := c.engine.CurrentTermNumber()
	if err == nil {
		slog.Info("store already initialized")
		return nil
	}
	if !errors.Is(err, errs.ErrNotInitialized) {
		return err
	}
	receipt, err := c.engine.Execute(consensus.Call{
		Caller:    c.genesis.Miners[0],
		Timestamp: c.genesis.Timestamp,
		Command:   c.genesis.Command(),
	})
	if err != nil {
		slog.Error("failed to apply genesis", "error", err)
		return err
	}
	slog.Info("genesis applied", "term", c.genesis.Term, "miners", len(c.genesis.Miners), "allocations", len(c.genesis.Allocations), "timestamp", receipt.Timestamp)
	return nil
}

func (c *Cmd) replay(ctx context.Context, r *Reader, summary *Summary) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		receipt, err := c.apply(line)
		if err != nil {
			summary.Rejected++
			slog.Warn("call rejected",
				"entry", r.Index(),
				"op", line.Op,
				"height", line.Height,
				"kind", errs.KindOf(err),
				"code", errs.CodeOf(err),
				"error", err)
			continue
		}
		summary.Committed++
		slog.Info("call committed",
			"entry", r.Index(),
			"command", receipt.Command,
			"caller", receipt.Caller,
			"height", receipt.Height,
			"events", len(receipt.Events))
	}
	slog.Info("replay finished", "committed", summary.Committed, "rejected", summary.Rejected)
	return nil
}

func (c *Cmd) apply(line *Line) (*consensus.Receipt, error) {
	d, err := line.Decode()
	if err != nil {
		return nil, err
	}
	if pkg, ok := d.Call.Command.(*consensus.PackageOutValue); ok && len(pkg.Signature) == 0 && d.Key != nil {
		r, err := c.engine.GetRoundInfo(pkg.Round)
		if err != nil {
			return nil, err
		}
		sig, err := consensus.SignSlot(r, pkg.Slot, pkg.OutValue, d.Key)
		if err != nil {
			return nil, errors.Wrap(err, "sign slot")
		}
		pkg.Signature = sig
	}
	return c.engine.Execute(d.Call)
}

// Close stops stats export and closes the store.
func (c *Cmd) Close() {
	if c.pool != nil {
		c.pool.Shutdown()
	}
	if c.influx != nil {
		c.influx.Close()
	}
	if err := c.db.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
}

// Write prints the summary as JSON.
func (s *Summary) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
