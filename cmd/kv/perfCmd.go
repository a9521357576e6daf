package kv

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ValentinKolb/fKV/cmd/util"
	"github.com/ValentinKolb/fKV/lib/store/fstore"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for the file store",
		Long:    "Runs a set/get/delete benchmark against a throwaway store in a temporary directory and reports latency statistics.",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfOps        = 1000
	perfValueSizeB = 128
	perfKeySpread  = 100
)

func init() {
	// add flags
	key := "ops"
	perfTestCmd.Flags().Int(key, 1000, util.WrapString("Number of operations per benchmark"))
	key = "value-size"
	perfTestCmd.Flags().Int(key, 128, util.WrapString("Size of the value for each set operation (in bytes)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to spread the operations over"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfOps = viper.GetInt("ops")
	perfValueSizeB = viper.GetInt("value-size")
	perfKeySpread = viper.GetInt("keys")

	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {
	dir, err := os.MkdirTemp("", "fkv-perf-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(dir) }()

	s, err := fstore.New(filepath.Join(dir, "perf.json"), nil)
	if err != nil {
		return err
	}

	value := strings.Repeat("x", perfValueSizeB)
	registry := gometrics.NewRegistry()

	setTimer := gometrics.NewRegisteredTimer("set", registry)
	getTimer := gometrics.NewRegisteredTimer("get", registry)
	delTimer := gometrics.NewRegisteredTimer("del", registry)

	fmt.Printf("running %d ops per benchmark (value size %d B, %d keys)\n", perfOps, perfValueSizeB, perfKeySpread)

	for i := 0; i < perfOps; i++ {
		key := fmt.Sprintf("__perf_%d", i%perfKeySpread)
		setTimer.Time(func() {
			_ = s.Set(key, value)
		})
	}
	for i := 0; i < perfOps; i++ {
		key := fmt.Sprintf("__perf_%d", i%perfKeySpread)
		getTimer.Time(func() {
			_, _, _ = s.Get(key)
		})
	}
	for i := 0; i < perfOps; i++ {
		key := fmt.Sprintf("__perf_%d", i%perfKeySpread)
		delTimer.Time(func() {
			_ = s.Delete(key)
		})
	}

	fmt.Printf("%-6s %10s %12s %12s %12s\n", "op", "count", "mean", "p95", "max")
	registry.Each(func(name string, metric any) {
		timer, ok := metric.(gometrics.Timer)
		if !ok {
			return
		}
		fmt.Printf("%-6s %10d %12v %12v %12v\n",
			name,
			timer.Count(),
			time.Duration(int64(timer.Mean())),
			time.Duration(int64(timer.Percentile(0.95))),
			time.Duration(timer.Max()),
		)
	})

	return nil
}
