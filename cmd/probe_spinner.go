package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bnema/rotor/internal/application"
)

type probeProgressMsg struct {
	result application.ProbeResult
}

type probeDoneMsg struct {
	results application.ProbeResults
	err     error
}

type probeSpinnerModel struct {
	spinner spinner.Model
	label   string
	total   int
	checked int
	passed  int
	probe   tea.Cmd
	results application.ProbeResults
	err     error
	done    bool
}

func newProbeSpinnerModel(label string, total int, probe tea.Cmd) probeSpinnerModel {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("69"))),
	)

	return probeSpinnerModel{
		spinner: s,
		label:   label,
		total:   total,
		probe:   probe,
	}
}

func (m probeSpinnerModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.probe)
}

func (m probeSpinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case probeProgressMsg:
		m.checked++
		if msg.result.OK {
			m.passed++
		}
		return m, nil
	case probeDoneMsg:
		m.done = true
		m.results = msg.results
		m.err = msg.err
		return m, tea.Quit
	default:
		return m, nil
	}
}

func (m probeSpinnerModel) View() string {
	if m.done {
		return ""
	}

	if m.total > 0 {
		return fmt.Sprintf("%s %s %d/%d (%d ok)", m.spinner.View(), m.label, m.checked, m.total, m.passed)
	}
	return fmt.Sprintf("%s %s %d checked (%d ok)", m.spinner.View(), m.label, m.checked, m.passed)
}

// runProbeSpinner shows progress on output while probe runs. probe receives a
// callback to report each finished handshake.
func runProbeSpinner(ctx context.Context, output io.Writer, label string, total int, probe func(context.Context, func(application.ProbeResult)) (application.ProbeResults, error)) (application.ProbeResults, error) {
	var p *tea.Program

	probeCmd := func() tea.Msg {
		results, err := probe(ctx, func(result application.ProbeResult) {
			p.Send(probeProgressMsg{result: result})
		})
		return probeDoneMsg{results: results, err: err}
	}

	p = tea.NewProgram(
		newProbeSpinnerModel(label, total, probeCmd),
		tea.WithInput(nil),
		tea.WithOutput(output),
		tea.WithContext(ctx),
	)

	finalModel, err := p.Run()
	if err != nil {
		return nil, err
	}

	result, ok := finalModel.(probeSpinnerModel)
	if !ok {
		return nil, fmt.Errorf("unexpected final spinner model type %T", finalModel)
	}

	return result.results, result.err
}
