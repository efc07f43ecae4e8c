package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/randomizedcoder/go-vibium-sync/internal/stats"
	"github.com/randomizedcoder/go-vibium-sync/internal/tui"
	"github.com/randomizedcoder/go-vibium-sync/pkg/browser"
)

// step is one unit of the CLI script.
type step struct {
	name string
	run  func(ctx context.Context) error
}

// runScript launches the browser, runs the configured steps, and quits.
func (o *Orchestrator) runScript(ctx context.Context) error {
	cfg := o.config

	o.metrics.SessionOpened()
	o.setStep("launch", 0, 0)
	b, err := browser.Launch(ctx, browser.LaunchOptions{
		Headed:         cfg.Headed,
		Port:           cfg.Port,
		ExecutablePath: cfg.ClickerPath,
		Endpoint:       cfg.Endpoint,
		CallTimeout:    cfg.CallTimeout,
		StartupTimeout: cfg.StartupTimeout,
		GracePeriod:    cfg.GracePeriod,
		Logger:         o.logger,
		Verbose:        cfg.Verbose,
		Observer:       o.observer(),
	})
	if err != nil {
		o.failStatus(err)
		return err
	}
	defer b.Quit()

	o.logger.Info("browser_launched", "endpoint", b.Endpoint(), "pid", b.PID(), "session", b.ID())
	o.updateStatus(func(s *tui.StatusMsg) {
		s.Endpoint = b.Endpoint()
		if b.PID() > 0 {
			s.PID = b.PID()
		}
	})
	if o.metricsServer != nil {
		o.metricsServer.SetReady(true)
	}

	steps := o.buildSteps(b)
	for i, st := range steps {
		o.setStep(st.name, i, len(steps))
		start := time.Now()
		if err := st.run(ctx); err != nil {
			err = fmt.Errorf("%s: %w", st.name, err)
			o.failStatus(err)
			return err
		}
		o.logger.Info("step_complete", "step", st.name, "elapsed", time.Since(start).String())
	}
	o.setStep("done", len(steps), len(steps))

	return nil
}

// buildSteps turns the config into the ordered script.
func (o *Orchestrator) buildSteps(b *browser.Browser) []step {
	cfg := o.config
	var steps []step

	steps = append(steps, step{
		name: "go " + cfg.URL,
		run:  func(ctx context.Context) error { return b.Go(ctx, cfg.URL) },
	})

	if cfg.Find != "" {
		var el *browser.Element

		steps = append(steps, step{
			name: "find " + cfg.Find,
			run: func(ctx context.Context) error {
				var err error
				el, err = b.Find(ctx, cfg.Find, browser.FindOptions{Timeout: cfg.FindTimeout})
				return err
			},
		})

		if cfg.Click {
			steps = append(steps, step{
				name: "click",
				run: func(ctx context.Context) error {
					return el.Click(ctx, browser.ActionOptions{})
				},
			})
		}

		if cfg.Type != "" {
			steps = append(steps, step{
				name: "type",
				run: func(ctx context.Context) error {
					return el.Type(ctx, cfg.Type, browser.ActionOptions{})
				},
			})
		}

		if cfg.Attribute != "" {
			steps = append(steps, step{
				name: "attr " + cfg.Attribute,
				run: func(ctx context.Context) error {
					v, err := el.GetAttribute(ctx, cfg.Attribute)
					if err != nil {
						return err
					}
					if v == nil {
						fmt.Fprintf(o.out, "%s: (not set)\n", cfg.Attribute)
						return nil
					}
					fmt.Fprintf(o.out, "%s: %s\n", cfg.Attribute, *v)
					return nil
				},
			})
		}

		// Without an action, print what was found
		if !cfg.Click && cfg.Type == "" && cfg.Attribute == "" {
			steps = append(steps, step{
				name: "text",
				run: func(ctx context.Context) error {
					text, err := el.Text(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintln(o.out, text)
					return nil
				},
			})
		}
	}

	if cfg.Screenshot != "" {
		steps = append(steps, step{
			name: "screenshot",
			run: func(ctx context.Context) error {
				png, err := b.Screenshot(ctx)
				if err != nil {
					return err
				}
				if err := os.WriteFile(cfg.Screenshot, png, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(o.out, "screenshot: %s (%s)\n", cfg.Screenshot, stats.FormatBytes(int64(len(png))))
				return nil
			},
		})
	}

	if cfg.Hold > 0 {
		steps = append(steps, step{
			name: "hold",
			run: func(ctx context.Context) error {
				t := time.NewTimer(cfg.Hold)
				defer t.Stop()
				select {
				case <-t.C:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		})
	}

	return steps
}

func (o *Orchestrator) setStep(name string, done, total int) {
	o.updateStatus(func(s *tui.StatusMsg) {
		s.Step = name
		s.StepsDone = done
		s.StepsTotal = total
	})
}

func (o *Orchestrator) failStatus(err error) {
	o.logger.Error("script_failed", "error", err)
	o.updateStatus(func(s *tui.StatusMsg) { s.Err = err.Error() })
}
