// Package wizard is the terminal front end of a setup session.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/redmine-bridge/internal/keys"
	"github.com/nhle/redmine-bridge/internal/model"
	"github.com/nhle/redmine-bridge/internal/setup"
	"github.com/nhle/redmine-bridge/internal/source"
	"github.com/nhle/redmine-bridge/internal/theme"
	"github.com/nhle/redmine-bridge/internal/ui"
)

// Mode is the screen currently shown.
type Mode int

const (
	ModeConnectionForm Mode = iota // base URL and API key
	ModeValidating                 // testing the connection and discovering metadata
	ModeDefaultsForm               // name and default selection
	ModeSaving                     // persisting the connection
	ModeDone                       // summary
)

// connectionResultMsg carries the outcome of SubmitConnection.
type connectionResultMsg struct {
	seq       int
	discovery model.DiscoveryResult
	err       error
}

// defaultsResultMsg carries the outcome of SubmitDefaults.
type defaultsResultMsg struct {
	saved model.ConnectionConfig
	err   error
}

// values holds what the huh forms write into. It lives on the heap so
// every copy of Model shares it.
type values struct {
	baseURL    string
	apiKey     string
	name       string
	projectID  string
	trackerID  string
	priorityID string
}

// Model is the Bubble Tea model for the setup wizard.
type Model struct {
	mode   Mode
	neg    *setup.Negotiator
	keys   *keys.KeyMap
	help   help.Model
	layout ui.Layout

	form    *huh.Form
	values  *values
	spinner spinner.Model

	// seq tags in-flight connection attempts so that a result arriving
	// after the operator cancelled is ignored.
	seq    int
	cancel context.CancelFunc

	discovery model.DiscoveryResult
	err       error
	saved     *model.ConnectionConfig
	aborted   bool
}

// New creates a wizard driving neg. baseURL pre-fills the first form.
func New(neg *setup.Negotiator, baseURL string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.ColorBlue)

	v := &values{baseURL: baseURL}
	if existing, ok := neg.Existing(); ok && v.baseURL == "" {
		v.baseURL = existing.BaseURL
	}

	m := Model{
		mode:    ModeConnectionForm,
		neg:     neg,
		keys:    keys.DefaultKeyMap(),
		help:    help.New(),
		layout:  ui.NewLayout(80, 24),
		values:  v,
		spinner: sp,
	}
	m.form = m.buildConnectionForm()
	return m
}

// Init starts the first form.
func (m Model) Init() tea.Cmd {
	return m.form.Init()
}

// Result returns the saved connection once the wizard has finished.
func (m Model) Result() (model.ConnectionConfig, bool) {
	if m.saved == nil {
		return model.ConnectionConfig{}, false
	}
	return *m.saved, true
}

// Aborted reports whether the operator quit before completion.
func (m Model) Aborted() bool {
	return m.aborted
}

// Update handles messages and dispatches based on current mode.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.help.Width = msg.Width
		if m.form != nil {
			m.form = m.form.WithWidth(m.layout.FormWidth())
		}
		return m.updateForm(msg)

	case connectionResultMsg:
		return m.handleConnectionResult(msg)

	case defaultsResultMsg:
		return m.handleDefaultsResult(msg)

	case spinner.TickMsg:
		if m.mode == ModeValidating || m.mode == ModeSaving {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m.quit()
		}
		switch m.mode {
		case ModeValidating:
			if key.Matches(msg, m.keys.Back) {
				return m.cancelValidation()
			}
			return m, nil
		case ModeSaving:
			return m, nil
		case ModeDone:
			return m, tea.Quit
		}
	}

	return m.updateForm(msg)
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.saved == nil {
		m.aborted = true
	}
	return m, tea.Quit
}

// updateForm forwards msg to the active form and reacts to completion.
func (m Model) updateForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.form == nil || (m.mode != ModeConnectionForm && m.mode != ModeDefaultsForm) {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		if m.mode == ModeConnectionForm {
			return m.startValidation()
		}
		return m.startSaving()
	case huh.StateAborted:
		return m.quit()
	}

	return m, cmd
}

// --- Step 1: connection ---

func (m Model) buildConnectionForm() *huh.Form {
	v := m.values
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Redmine URL").
				Description("Root URL of your Redmine server").
				Placeholder("https://redmine.example.com").
				Value(&v.baseURL).
				Validate(validateURL),
			huh.NewInput().
				Title("API key").
				Description("My account > API access key").
				EchoMode(huh.EchoModePassword).
				Value(&v.apiKey).
				Validate(validateRequired("API key")),
		),
	).WithWidth(m.layout.FormWidth()).WithShowHelp(false)
}

func (m Model) startValidation() (tea.Model, tea.Cmd) {
	ctx, cancel := context.WithCancel(context.Background())
	m.seq++
	m.cancel = cancel
	m.mode = ModeValidating
	m.err = nil

	neg := m.neg
	seq := m.seq
	baseURL, apiKey := m.values.baseURL, m.values.apiKey

	submit := func() tea.Msg {
		disc, err := neg.SubmitConnection(ctx, baseURL, apiKey)
		return connectionResultMsg{seq: seq, discovery: disc, err: err}
	}
	return m, tea.Batch(m.spinner.Tick, submit)
}

func (m Model) cancelValidation() (tea.Model, tea.Cmd) {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.seq++
	m.err = errors.New("cancelled")
	// A result that landed after cancellation may have advanced the session.
	_ = m.neg.Reset()
	return m.reopenConnectionForm()
}

func (m Model) reopenConnectionForm() (tea.Model, tea.Cmd) {
	m.mode = ModeConnectionForm
	m.form = m.buildConnectionForm()
	return m, m.form.Init()
}

func (m Model) handleConnectionResult(msg connectionResultMsg) (tea.Model, tea.Cmd) {
	if msg.seq != m.seq || m.mode != ModeValidating {
		return m, nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}

	if msg.err != nil {
		m.err = msg.err
		return m.reopenConnectionForm()
	}

	m.discovery = msg.discovery
	suggested := m.neg.Suggested()
	m.values.name = suggested.Name
	m.values.projectID = suggested.ProjectID
	m.values.trackerID = suggested.TrackerID
	m.values.priorityID = suggested.PriorityID

	m.mode = ModeDefaultsForm
	m.form = m.buildDefaultsForm()
	return m, m.form.Init()
}

// --- Step 2: defaults ---

func (m Model) buildDefaultsForm() *huh.Form {
	v := m.values
	fields := []huh.Field{
		huh.NewInput().
			Title("Name").
			Description("A label for this connection").
			Value(&v.name).
			Validate(validateRequired("Name")),
	}

	if f := selectField("Default project", m.discovery.Projects, &v.projectID, false); f != nil {
		fields = append(fields, f)
	}
	if f := selectField("Default tracker", m.discovery.Trackers, &v.trackerID, true); f != nil {
		fields = append(fields, f)
	}
	if f := selectField("Default priority", m.discovery.Priorities, &v.priorityID, true); f != nil {
		fields = append(fields, f)
	}

	return huh.NewForm(huh.NewGroup(fields...)).
		WithWidth(m.layout.FormWidth()).
		WithShowHelp(false)
}

// selectField builds a select over opts, or nil when there is nothing to
// choose from. An optional select starts with a "(none)" entry and keeps
// an empty value.
func selectField(title string, opts []model.Option, value *string, optional bool) huh.Field {
	if len(opts) == 0 {
		*value = ""
		return nil
	}

	options := make([]huh.Option[string], 0, len(opts)+1)
	if optional {
		options = append(options, huh.NewOption("(none)", ""))
	}
	for _, o := range opts {
		options = append(options, huh.NewOption(o.DisplayName, o.ID))
	}
	switch {
	case model.Contains(opts, *value):
	case optional:
		*value = ""
	default:
		*value = opts[0].ID
	}

	return huh.NewSelect[string]().
		Title(title).
		Options(options...).
		Value(value)
}

func (m Model) startSaving() (tea.Model, tea.Cmd) {
	m.mode = ModeSaving
	m.err = nil

	neg := m.neg
	d := setup.Defaults{
		Name:       m.values.name,
		ProjectID:  m.values.projectID,
		TrackerID:  m.values.trackerID,
		PriorityID: m.values.priorityID,
	}

	save := func() tea.Msg {
		saved, err := neg.SubmitDefaults(context.Background(), d)
		return defaultsResultMsg{saved: saved, err: err}
	}
	return m, tea.Batch(m.spinner.Tick, save)
}

func (m Model) handleDefaultsResult(msg defaultsResultMsg) (tea.Model, tea.Cmd) {
	if m.mode != ModeSaving {
		return m, nil
	}
	if msg.err != nil {
		m.err = msg.err
		m.mode = ModeDefaultsForm
		m.form = m.buildDefaultsForm()
		return m, m.form.Init()
	}

	m.saved = &msg.saved
	m.mode = ModeDone
	return m, nil
}

// --- View ---

// View renders the wizard based on the current mode.
func (m Model) View() string {
	var body string
	switch m.mode {
	case ModeConnectionForm, ModeDefaultsForm:
		body = m.viewError() + m.form.View()
	case ModeValidating:
		body = fmt.Sprintf("%s Checking the connection and loading projects...\n\n%s",
			m.spinner.View(), theme.HintStyle.Render("Press esc to cancel."))
	case ModeSaving:
		body = m.spinner.View() + " Saving connection..."
	case ModeDone:
		body = m.viewSummary()
	}

	return m.layout.Render("Redmine setup", m.stepLabel(), body, m.hints())
}

func (m Model) stepLabel() string {
	switch m.mode {
	case ModeConnectionForm, ModeValidating:
		return "step 1/2: connection"
	case ModeDefaultsForm, ModeSaving:
		return "step 2/2: defaults"
	default:
		return "done"
	}
}

func (m Model) hints() string {
	switch m.mode {
	case ModeValidating:
		return "esc cancel | ctrl+c quit"
	case ModeSaving:
		return "saving..."
	case ModeDone:
		return "any key to exit"
	default:
		return m.help.View(m.keys)
	}
}

func (m Model) viewError() string {
	if m.err == nil {
		return ""
	}

	kind := source.Kind(m.err)
	label := theme.KindStyle(kind).Render(kind)
	msg := theme.ErrorStyle.Render(errorHeadline(m.err))

	var b strings.Builder
	b.WriteString(label + " " + msg + "\n")
	for _, d := range source.Details(m.err) {
		b.WriteString(theme.HintStyle.Render("  - "+d) + "\n")
	}
	b.WriteString("\n")
	return b.String()
}

// errorHeadline turns the error taxonomy into an operator-facing line.
func errorHeadline(err error) string {
	switch {
	case source.IsAuthError(err):
		return "The server rejected the API key."
	case source.Field(err) == "base_url":
		return "Check the URL: " + err.Error()
	case source.IsConnectionError(err):
		return "Could not reach the server: " + err.Error()
	default:
		return err.Error()
	}
}

func (m Model) viewSummary() string {
	if m.saved == nil {
		return ""
	}
	s := m.saved

	rows := []struct{ label, value string }{
		{"Name", s.Name},
		{"URL", s.BaseURL},
		{"Default project", optionName(m.discovery.Projects, s.DefaultProjectID)},
		{"Default tracker", optionName(m.discovery.Trackers, s.DefaultTrackerID)},
		{"Default priority", optionName(m.discovery.Priorities, s.DefaultPriorityID)},
	}

	var b strings.Builder
	b.WriteString(theme.SuccessStyle.Render("Connection saved") + "\n\n")
	for _, r := range rows {
		b.WriteString(theme.LabelStyle.Render(r.label) + r.value + "\n")
	}
	if s.DefaultProjectID == "" {
		b.WriteString("\n" + theme.WarnStyle.Render("No default project: every issue must name its project."))
	}

	return theme.SummaryStyle.Render(b.String())
}

func optionName(opts []model.Option, id string) string {
	if id == "" {
		return "(none)"
	}
	for _, o := range opts {
		if o.ID == id {
			return o.DisplayName
		}
	}
	return id
}

// --- Validators ---

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validateURL(s string) error {
	_, err := setup.NormalizeURL(s)
	var ce *source.ConnectionError
	if errors.As(err, &ce) && ce.Err != nil {
		return ce.Err
	}
	return err
}
