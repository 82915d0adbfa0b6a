package influxdb

import (
	"context"
	"fmt"
	"log/slog"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/pkg/errors"

	"github.com/vechain/dposcore/common"
	"github.com/vechain/dposcore/config"
)

type DB struct {
	client influxdb2.Client
	org    string
	bucket string
}

// New connects to InfluxDB, retrying the ping until the server answers or
// config.DefaultTimeout elapses.
func New(url, token, org, bucket string) (*DB, error) {
	influx := influxdb2.NewClient(url, token)

	err := common.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), config.DefaultRetryDelay)
		defer cancel()
		ok, err := influx.Ping(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("influxdb not ready")
		}
		return nil
	}, config.DefaultRetryDelay, config.DefaultTimeout)
	if err != nil {
		slog.Error("failed to ping influxdb", "url", url, "error", err)
		influx.Close()
		return nil, err
	}

	return &DB{client: influx, org: org, bucket: bucket}, nil
}

// WritePoints writes points in one blocking request.
func (i *DB) WritePoints(ctx context.Context, points []*write.Point) error {
	if len(points) == 0 {
		return nil
	}
	writeAPI := i.client.WriteAPIBlocking(i.org, i.bucket)
	if err := writeAPI.WritePoint(ctx, points...); err != nil {
		return errors.Wrapf(err, "write %d points", len(points))
	}
	return nil
}

// LatestRound returns the highest sealed round number written, 0 if none.
func (i *DB) LatestRound(ctx context.Context) (uint64, error) {
	queryAPI := i.client.QueryAPI(i.org)
	query := fmt.Sprintf(`from(bucket: "%s")
	  |> range(start: 0)
	  |> filter(fn: (r) => r["_measurement"] == "%s")
	  |> filter(fn: (r) => r["_field"] == "%s")
	  |> group()
	  |> max()`, i.bucket, config.RoundStatsMeasurement, config.RoundNumberField)
	res, err := queryAPI.Query(ctx, query)
	if err != nil {
		return 0, err
	}
	defer res.Close()

	if res.Next() {
		switch n := res.Record().Value().(type) {
		case uint64:
			return n, nil
		case int64:
			return uint64(n), nil
		default:
			slog.Warn("unexpected round number type", "type", fmt.Sprintf("%T", n))
			return 0, nil
		}
	}
	if err := res.Err(); err != nil {
		slog.Error("error in result", "error", err)
		return 0, err
	}
	return 0, nil
}

func (i *DB) Close() {
	i.client.Close()
}
