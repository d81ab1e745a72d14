package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go-attendance-agent/capture"
	"go-attendance-agent/events"
	"go-attendance-agent/images"
	"go-attendance-agent/storage"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var captureSubject string

func init() {
	for _, def := range []struct {
		use     string
		short   string
		purpose capture.Purpose
	}{
		{"enroll", "Capture and enroll a face reference set", capture.PurposeEnroll},
		{"checkin", "Capture a face set and check in", capture.PurposeCheckIn},
		{"checkout", "Capture a face set and check out", capture.PurposeCheckOut},
	} {
		purpose := def.purpose
		cmd := &cobra.Command{
			Use:   def.use,
			Short: def.short,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCapture(cmd.Context(), purpose)
			},
		}
		cmd.Flags().StringVarP(&captureSubject, "subject", "s", "", "Employee identifier")
		_ = cmd.MarkFlagRequired("subject")
		rootCmd.AddCommand(cmd)
	}
}

// runCapture drives one interactive capture flow on the terminal,
// retrying until success, exhaustion or a device failure.
func runCapture(ctx context.Context, purpose capture.Purpose) error {
	deps, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer deps.close()

	profile := cfg.Capture.ProfileFor(purpose)

	count, err := deps.attempts.Count(ctx, captureSubject)
	if err != nil {
		return fmt.Errorf("failed to check attempt count: %w", err)
	}
	if count >= profile.MaxAttempts {
		return fmt.Errorf("%s is locked out after %d failed attempts, try again within %s", captureSubject, count, storage.LockoutWindow)
	}

	session := capture.NewSession(capture.Config{
		Purpose: purpose,
		Subject: captureSubject,
		Profile: profile,
	}, capture.Deps{
		Camera:    deps.camera,
		Locator:   deps.locator,
		Prober:    deps.prober,
		Submitter: deps.submitter,
		Encoder:   images.NewEncoder(),
	})
	defer session.Close()

	sessionId := uuid.NewString()

	for {
		stopWatcher := watchProgress(session, profile.FrameCount)
		state, err := session.Attempt(ctx)
		stopWatcher()

		snapshot := session.Snapshot()
		switch {
		case errors.Is(err, context.Canceled):
			return err
		case err != nil:
			// device or permission trouble, no attempt slot consumed
			fmt.Fprintf(os.Stderr, "\n%s\n", snapshot.Message)
			if snapshot.Remediation != "" {
				fmt.Fprintf(os.Stderr, "%s\n", snapshot.Remediation)
			}
			return err
		case state == capture.StateSucceeded:
			if err := deps.attempts.Clear(ctx, captureSubject); err != nil {
				return err
			}
			publishOutcome(ctx, deps, session, sessionId, purpose, "succeeded", snapshot.Attempt)
			fmt.Fprintf(os.Stderr, "\n%s\n", snapshot.Message)
			return nil
		case state == capture.StateFailedTerminal:
			if _, err := deps.attempts.Increment(ctx, captureSubject); err != nil {
				return err
			}
			publishOutcome(ctx, deps, session, sessionId, purpose, "failed_terminal", snapshot.Attempt)
			return fmt.Errorf("%s: attempt limit reached", snapshot.Message)
		default:
			if _, err := deps.attempts.Increment(ctx, captureSubject); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "\n%s, retrying (%d of %d attempts left)\n",
				snapshot.Message, snapshot.AttemptsLeft, snapshot.MaxAttempts)
		}
	}
}

// watchProgress renders the countdown and a per-frame progress bar from
// snapshot polling. The returned func stops the watcher.
func watchProgress(session *capture.Session, frameCount int) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)

		bar := progressbar.NewOptions(frameCount,
			progressbar.OptionSetDescription("Capturing"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)
		lastCountdown := -1

		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				_ = bar.Finish()
				return
			case <-ticker.C:
				snapshot := session.Snapshot()
				if snapshot.State == capture.StateCountdown.String() && snapshot.Countdown != lastCountdown {
					lastCountdown = snapshot.Countdown
					fmt.Fprintf(os.Stderr, "Starting in %d...\n", snapshot.Countdown)
				}
				_ = bar.Set(snapshot.FramesCaptured)
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

func publishOutcome(ctx context.Context, deps *agentDeps, session *capture.Session, sessionId string, purpose capture.Purpose, outcome string, attempts int) {
	event := events.SessionEvent{
		SessionID:  sessionId,
		Purpose:    purpose.String(),
		Subject:    captureSubject,
		Outcome:    outcome,
		Attempts:   attempts,
		Location:   session.Location(),
		OccurredAt: time.Now().UTC(),
	}
	if err := deps.publisher.Publish(ctx, event); err != nil {
		fmt.Fprintf(os.Stderr, "failed to publish session event: %v\n", err)
	}
}
