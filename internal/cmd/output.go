package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Iron-Ham/pqueue/internal/taskqueue"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// taskView is the printable form of a task record.
type taskView struct {
	ID          int64      `json:"id" yaml:"id"`
	Kind        string     `json:"kind" yaml:"kind"`
	State       string     `json:"state" yaml:"state"`
	Progress    float64    `json:"progress" yaml:"progress"`
	Attempts    int        `json:"attempts" yaml:"attempts"`
	Payload     any        `json:"payload,omitempty" yaml:"payload,omitempty"`
	Error       string     `json:"error,omitempty" yaml:"error,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at" yaml:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

func newTaskView(rec taskqueue.TaskRecord) taskView {
	v := taskView{
		ID:          rec.ID,
		Kind:        rec.Kind,
		State:       rec.State.String(),
		Progress:    rec.Progress,
		Attempts:    rec.Attempts,
		Error:       rec.Error,
		SubmittedAt: rec.SubmittedAt,
		StartedAt:   rec.StartedAt,
		FinishedAt:  rec.FinishedAt,
	}
	if len(rec.Payload) > 0 {
		var decoded any
		if err := json.Unmarshal(rec.Payload, &decoded); err == nil {
			v.Payload = decoded
		} else {
			v.Payload = string(rec.Payload)
		}
	}
	return v
}

// colorEnabled resolves an output.color mode for the writer w.
func colorEnabled(mode string, w io.Writer) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// taskPrinter renders task records in one of the configured output formats.
type taskPrinter struct {
	format   string
	renderer *lipgloss.Renderer
}

func newTaskPrinter(w io.Writer, format, colorMode string) *taskPrinter {
	r := lipgloss.NewRenderer(w)
	if colorEnabled(colorMode, w) {
		r.SetColorProfile(termenv.ANSI256)
	} else {
		r.SetColorProfile(termenv.Ascii)
	}
	return &taskPrinter{format: format, renderer: r}
}

func (p *taskPrinter) print(w io.Writer, records []taskqueue.TaskRecord) error {
	views := make([]taskView, 0, len(records))
	for _, rec := range records {
		views = append(views, newTaskView(rec))
	}

	switch p.format {
	case "json":
		data, err := json.MarshalIndent(views, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode tasks: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(views); err != nil {
			return fmt.Errorf("failed to encode tasks: %w", err)
		}
		return enc.Close()
	default:
		_, err := io.WriteString(w, p.table(views))
		return err
	}
}

// stateColors maps each state to its ANSI 256 color.
var stateColors = map[string]lipgloss.Color{
	taskqueue.TaskPending.String():   lipgloss.Color("245"),
	taskqueue.TaskRunning.String():   lipgloss.Color("39"),
	taskqueue.TaskSucceeded.String(): lipgloss.Color("42"),
	taskqueue.TaskFailed.String():    lipgloss.Color("196"),
	taskqueue.TaskCancelled.String(): lipgloss.Color("214"),
}

const maxDetailWidth = 60

func (p *taskPrinter) table(views []taskView) string {
	if len(views) == 0 {
		return p.renderer.NewStyle().Faint(true).Render("No tasks.") + "\n"
	}

	headers := []string{"ID", "KIND", "STATE", "PROGRESS", "ATTEMPTS", "SUBMITTED", "DETAIL"}
	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{
			strconv.FormatInt(v.ID, 10),
			v.Kind,
			v.State,
			fmt.Sprintf("%3.0f%%", v.Progress*100),
			strconv.Itoa(v.Attempts),
			v.SubmittedAt.Local().Format("2006-01-02 15:04:05"),
			truncate(detail(v), maxDetailWidth),
		})
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	header := p.renderer.NewStyle().Bold(true)
	var sb strings.Builder
	for i, h := range headers {
		sb.WriteString(header.Width(widths[i] + 2).Render(h))
	}
	sb.WriteString("\n")
	for _, row := range rows {
		for i, cell := range row {
			style := p.renderer.NewStyle().Width(widths[i] + 2)
			if i == 2 {
				style = style.Foreground(stateColors[cell])
			}
			sb.WriteString(style.Render(cell))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// detail is the error of a failed attempt, or the payload.
func detail(v taskView) string {
	if v.Error != "" {
		return v.Error
	}
	if v.Payload == nil {
		return ""
	}
	if s, ok := v.Payload.(string); ok {
		return s
	}
	data, err := json.Marshal(v.Payload)
	if err != nil {
		return ""
	}
	return string(data)
}

// truncate flattens s to one line no wider than n terminal cells.
func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return ansi.Truncate(s, n, "...")
}
