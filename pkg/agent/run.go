package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/entrhq/conduit/pkg/messaging"
	"github.com/entrhq/conduit/pkg/types"
)

const (
	stuckPrompt = "Identical responses are repeating. Try a different approach than before."

	// MaxStepsMessage is streamed when a run hits its step cap without an
	// answer.
	MaxStepsMessage = "I searched deeper but couldn't find a clear answer. Could you make your request a bit more specific?"

	noActionResult = "Thinking complete - no action needed"
)

// withState runs body with the agent in state s and restores the previous
// state on every exit path. A failing or panicking body sets the error state
// before the restore.
func (a *Agent) withState(s types.AgentState, body func() error) (err error) {
	prev := a.State()
	a.setState(s)
	a.log.Debugf("Agent state changed: %s -> %s", prev, s)

	defer func() {
		if r := recover(); r != nil {
			a.log.Errorf("Agent panicked during run: %v", r)
			a.setState(types.AgentStateError)
			a.restore(prev)
			panic(r)
		}
		a.restore(prev)
	}()

	if err = body(); err != nil {
		a.log.Errorf("Agent run failed: %v", err)
		a.setState(types.AgentStateError)
	}
	return err
}

func (a *Agent) restore(prev types.AgentState) {
	a.log.Debugf("Agent state restored: %s -> %s", a.State(), prev)
	a.setState(prev)
}

func (a *Agent) checkIdle() error {
	if s := a.State(); s != types.AgentStateIdle {
		return fmt.Errorf("%w: current state %s", ErrInvalidState, s)
	}
	return nil
}

// Run executes steps until a special tool finishes the run or the step cap is
// reached, and returns one line per step.
func (a *Agent) Run(ctx context.Context, request string) (string, error) {
	if err := a.checkIdle(); err != nil {
		return "", err
	}
	if request != "" {
		if err := a.UpdateMemory(types.RoleUser, request); err != nil {
			return "", err
		}
	}

	var results []string
	err := a.withState(types.AgentStateRunning, func() error {
		for a.currentStep < a.maxSteps && a.State() != types.AgentStateFinished {
			if err := ctx.Err(); err != nil {
				return err
			}
			a.currentStep++
			a.log.Infof("--- Step %d/%d started ---", a.currentStep, a.maxSteps)

			result, err := a.Step(ctx)
			if err != nil {
				return err
			}
			if a.IsStuck() {
				a.HandleStuckState()
			}
			results = append(results, fmt.Sprintf("Step %d: %s", a.currentStep, result))
			a.log.Infof("--- Step %d finished: %s ---", a.currentStep, truncate(result, 100))
		}

		if a.currentStep >= a.maxSteps {
			a.currentStep = 0
			a.log.Warnf("Reached max steps (%d), ending run", a.maxSteps)
			results = append(results, fmt.Sprintf("Terminated: Reached max steps (%d)", a.maxSteps))
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if len(results) == 0 {
		return "No steps executed", nil
	}
	return strings.Join(results, "\n"), nil
}

// RunStreaming executes the loop like Run while every tool and progress
// message goes to q. It does not push the stop message; the caller owns the
// queue's lifecycle. Memory is cleared after a successful run.
func (a *Agent) RunStreaming(ctx context.Context, q *messaging.Queue) error {
	if err := a.checkIdle(); err != nil {
		return err
	}
	a.log.Infof("Agent %s memory length: %d", a.name, a.memory.Len())

	a.queue = q
	defer func() { a.queue = nil }()

	err := a.withState(types.AgentStateRunning, func() error {
		for a.currentStep < a.maxSteps && a.State() != types.AgentStateFinished {
			if err := ctx.Err(); err != nil {
				return err
			}
			a.currentStep++
			a.log.Infof("--- Step %d started ---", a.currentStep)

			if _, err := a.Step(ctx); err != nil {
				return err
			}
			if a.IsStuck() {
				a.HandleStuckState()
				a.log.Infof("Repeated responses detected, changing strategy:\n%s", a.nextStepPrompt)
			}
			a.log.Infof("--- Step %d finished ---", a.currentStep)
		}

		if a.currentStep >= a.maxSteps && a.State() != types.AgentStateFinished {
			a.log.Warnf("Reached max steps (%d), ending run", a.maxSteps)
			a.Emit(types.NewStateMessage(types.RoleAssistantStreaming, MaxStepsMessage))
		}
		return nil
	})
	if err != nil {
		return err
	}

	a.Cleanup()
	a.log.Infof("Agent run complete")
	return nil
}

// Step performs one think-act cycle.
func (a *Agent) Step(ctx context.Context) (string, error) {
	shouldAct, err := a.strategy.Think(ctx, a)
	if err != nil {
		return "", err
	}
	if !shouldAct {
		return noActionResult, nil
	}
	return a.strategy.Act(ctx, a)
}

// IsStuck reports whether the last assistant reply repeats the same content
// at least duplicateThreshold times among the messages just before it.
func (a *Agent) IsStuck() bool {
	msgs := a.memory.GetAll()
	t := a.duplicateThreshold
	if len(msgs) < t+1 {
		return false
	}

	last := msgs[len(msgs)-1]
	if last.Role != types.RoleAssistant || last.Content == "" {
		return false
	}

	count := 0
	for _, m := range msgs[len(msgs)-(t+1) : len(msgs)-1] {
		if m.Role == types.RoleAssistant && m.Content == last.Content {
			count++
		}
	}
	return count >= t
}

// HandleStuckState prepends a change-of-strategy directive to the next step
// prompt.
func (a *Agent) HandleStuckState() {
	a.nextStepPrompt = stuckPrompt + "\n" + a.nextStepPrompt
	a.log.Warnf("Agent detected stuck state, added prompt: %s", stuckPrompt)
}
