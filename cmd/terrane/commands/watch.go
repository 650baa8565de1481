package commands

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/pkg/engine"
)

func newWatchCommand() *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Replan on topology file changes",
		Long: `Watch the topology file and print a fresh plan whenever it changes.

Nothing is applied; watch is a read-only feedback loop for editing
topologies. Stop with Ctrl-C.`,
		Example: `  # Watch the default topology file
  terrane watch

  # Watch with a longer settle time for editors that write in bursts
  terrane watch --debounce 1s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return err
			}
			defer watcher.Close()

			// Watch the directory: editors often replace the file, which
			// drops a watch set on the file itself.
			dir := filepath.Dir(topologyPath)
			if err := watcher.Add(dir); err != nil {
				return err
			}
			target := filepath.Clean(topologyPath)

			replan := func() {
				_, graph, err := loadGraph()
				if err != nil {
					log.Error().Err(err).Msg("Topology invalid")
					return
				}
				plan, err := engine.NewPlanner(rt.store).Plan(graph)
				if err != nil {
					log.Error().Err(err).Msg("Planning failed")
					return
				}
				if err := printPlan(plan); err != nil {
					log.Error().Err(err).Msg("Failed to render plan")
				}
			}

			log.Info().Str("file", target).Msg("Watching topology")
			replan()

			var timer *time.Timer
			timerCh := make(chan struct{}, 1)
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if filepath.Clean(ev.Name) != target {
						continue
					}
					if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
						continue
					}
					// Debounce bursts of write events.
					if timer != nil {
						timer.Stop()
					}
					timer = time.AfterFunc(debounce, func() {
						select {
						case timerCh <- struct{}{}:
						default:
						}
					})
				case <-timerCh:
					log.Info().Msg("Topology changed, replanning")
					replan()
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					log.Warn().Err(err).Msg("Watcher error")
				}
			}
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", 250*time.Millisecond, "settle time after a change before replanning")

	return cmd
}
