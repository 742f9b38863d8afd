package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"rumspool/internal/config"
	"rumspool/internal/domain"
	"rumspool/internal/logging"
	"rumspool/internal/pipeline"
	"rumspool/internal/rum"
)

type configPathFunc func() string

func openPipeline(ctx context.Context, path configPathFunc) (*pipeline.Pipeline, *slog.Logger, error) {
	cfg, err := config.Load(path())
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.Log, os.Stderr)
	p, err := pipeline.Open(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return p, logger, nil
}

func newDemoCommand(path configPathFunc) *cobra.Command {
	var (
		count     int
		consentID string
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Generate synthetic RUM events and spool them",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, logger, err := openPipeline(ctx, path)
			if err != nil {
				return err
			}
			defer p.Close()

			if consentID != "" {
				c, err := domain.ParseConsent(consentID)
				if err != nil {
					return err
				}
				if err := p.Provider.SetConsent(ctx, c); err != nil {
					return err
				}
			}

			session := rum.Session{ID: uuid.NewString(), Type: rum.SessionTypeSynthetics}
			for i := 0; i < count; i++ {
				p.Handler.Consume(syntheticEvent(session, i))
			}
			logger.Info("demo events consumed", "count", count, "consent", p.Provider.Consent().String())
			fmt.Fprintf(cmd.OutOrStdout(), "consumed %d events under %s consent\n", count, p.Provider.Consent())
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 10, "number of events to generate")
	cmd.Flags().StringVar(&consentID, "consent", "", "consent to apply before generating (granted|pending|not_granted)")
	return cmd
}

func syntheticEvent(session rum.Session, i int) rum.Event {
	now := time.Now()
	view := rum.ViewRef{ID: uuid.NewString(), URL: "com.example.DemoActivity"}
	var payload any
	switch i % 4 {
	case 0:
		status := int64(200)
		payload = &rum.ResourceEvent{
			Date: now.UnixMilli(), Session: session, View: view,
			Application: rum.Application{ID: "demo"},
			Resource:    rum.Resource{Type: rum.ResourceTypeFetch, Method: "GET", URL: "https://example.com/api", StatusCode: &status, Duration: int64(120 * time.Millisecond)},
		}
	case 1:
		payload = &rum.ActionEvent{
			Date: now.UnixMilli(), Session: session, View: view,
			Application: rum.Application{ID: "demo"},
			Action:      rum.Action{Type: rum.ActionTypeTap, ID: uuid.NewString(), Target: &rum.Target{Name: "checkout"}},
		}
	case 2:
		payload = &rum.ViewEvent{
			Date: now.UnixMilli(), Session: session,
			Application: rum.Application{ID: "demo"},
			View:        rum.ViewDetails{ID: view.ID, URL: view.URL, TimeSpent: int64(2 * time.Second)},
		}
	default:
		payload = &rum.ErrorEvent{
			Date: now.UnixMilli(), Session: session, View: view,
			Application: rum.Application{ID: "demo"},
			Error:       rum.Error{Message: "synthetic failure", Source: rum.ErrorSourceCustom},
		}
	}
	return rum.Event{
		Payload:          payload,
		GlobalAttributes: map[string]any{"demo.index": i, "demo.generated_at": now},
		CustomTimings:    map[string]int64{"first_frame": int64(i * 10)},
	}
}

func newConsentCommand(path configPathFunc) *cobra.Command {
	cmd := &cobra.Command{Use: "consent", Short: "Tracking consent commands"}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <granted|pending|not_granted>",
		Short: "Update consent and migrate stored batches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := domain.ParseConsent(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			p, _, err := openPipeline(ctx, path)
			if err != nil {
				return err
			}
			defer p.Close()
			if p.Store == nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: consent.store_path is not set, the new value will not persist")
			}
			previous := p.Provider.Consent()
			if err := p.Provider.SetConsent(ctx, c); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "consent %s -> %s\n", previous, c)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "history",
		Short: "Show every persisted consent change",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, _, err := openPipeline(ctx, path)
			if err != nil {
				return err
			}
			defer p.Close()
			if p.Store == nil {
				return fmt.Errorf("consent.store_path is not set")
			}
			changes, err := p.Store.History(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, ch := range changes {
				fmt.Fprintf(out, "%4d  %-12s %s (%s)\n", ch.Seq, ch.Consent, ch.ChangedAt.Format(time.RFC3339), humanize.Time(ch.ChangedAt))
			}
			return nil
		},
	})
	return cmd
}

func newDrainCommand(path configPathFunc) *cobra.Command {
	var (
		drop  bool
		quiet bool
	)
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Read every uploadable batch, printing and optionally dropping it",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, err := openPipeline(cmd.Context(), path)
			if err != nil {
				return err
			}
			defer p.Close()

			out := cmd.OutOrStdout()
			r := p.Reader()
			var (
				batches int
				total   uint64
			)
			for {
				b, ok := r.ReadNextBatch()
				if !ok {
					break
				}
				batches++
				total += uint64(len(b.Data))
				fmt.Fprintf(out, "%s  %s\n", b.ID, humanize.Bytes(uint64(len(b.Data))))
				if !quiet {
					fmt.Fprintf(out, "%s\n", b.Data)
				}
				if drop {
					r.DropBatch(b.ID)
				}
			}
			fmt.Fprintf(out, "%d batches, %s\n", batches, humanize.Bytes(total))
			return nil
		},
	}
	cmd.Flags().BoolVar(&drop, "drop", false, "delete each batch after printing it")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print ids and sizes only")
	return cmd
}

func newStatusCommand(path configPathFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show consent and the batch files waiting in each directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, err := openPipeline(cmd.Context(), path)
			if err != nil {
				return err
			}
			defer p.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "consent: %s\n", p.Provider.Consent())
			for _, dir := range []string{p.Granted.Dir(), p.Pending.Dir()} {
				if err := printDir(out, dir); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func printDir(out io.Writer, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var total uint64
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		size := uint64(info.Size())
		total += size
		lines = append(lines, fmt.Sprintf("  %s  %8s  %s", e.Name(), humanize.Bytes(size), humanize.Time(info.ModTime())))
	}
	fmt.Fprintf(out, "%s: %d files, %s\n", filepath.Base(dir), len(lines), humanize.Bytes(total))
	for _, l := range lines {
		fmt.Fprintln(out, l)
	}
	return nil
}
