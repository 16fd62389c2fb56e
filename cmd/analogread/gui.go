package main

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	fyneapp "fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/NWU-FAE/analogRead-SEK/pkg/app"
	"github.com/NWU-FAE/analogRead-SEK/pkg/bridge"
	"github.com/NWU-FAE/analogRead-SEK/pkg/config"
	"github.com/NWU-FAE/analogRead-SEK/pkg/sample"
	"github.com/NWU-FAE/analogRead-SEK/pkg/sampler"
	"github.com/NWU-FAE/analogRead-SEK/pkg/scope"
)

// Redraws are throttled to ~60 FPS.
const updateInterval = 16 * time.Millisecond

// ui holds the window state.
type ui struct {
	engine     *app.App
	cfg        *config.Config
	configPath string
	window     fyne.Window

	scopeWidget *scope.ScopeWidget
	status      *widget.Label

	portSelect    *widget.Select
	portNames     map[string]string
	supplySelect  *widget.Select
	channelChecks []*widget.Check
	rateEntry     *widget.Entry
	formulaEntry  *widget.Entry
	metadataEntry *widget.Entry
	connectBtn    *widget.Button
	startBtn      *widget.Button

	updateMu       sync.Mutex
	lastUpdateTime time.Time
}

func runGUI(engine *app.App, configPath string) {
	application := fyneapp.NewWithID("cn.edu.nwu.analogread")

	window := application.NewWindow("analogRead SEK")
	window.Resize(fyne.NewSize(1200, 800))
	window.CenterOnScreen()

	u := &ui{
		engine:     engine,
		cfg:        engine.Config,
		configPath: configPath,
		window:     window,
		status:     widget.NewLabel("Disconnected"),
	}
	u.scopeWidget = scope.New(10*time.Second, 1000)

	engine.Sampler.OnUpdate(u.onSample)

	window.SetContent(container.NewBorder(
		u.createToolbar(),
		u.status,
		u.createSettingsPanel(),
		nil,
		u.scopeWidget,
	))
	window.SetOnClosed(u.saveConfig)
	u.refreshControls()
	window.ShowAndRun()
}

// createToolbar creates the connection and sampling controls.
func (u *ui) createToolbar() fyne.CanvasObject {
	ports, err := bridge.Ports()
	if err != nil {
		u.engine.Log.WithError(err).Warn("failed to list serial ports")
	}
	options, names, selected := portChoices(ports, u.cfg.Serial.Port)
	u.portNames = names
	u.portSelect = widget.NewSelect(options, nil)
	if selected != "" {
		u.portSelect.SetSelected(selected)
	}

	u.supplySelect = widget.NewSelect(supplyChoices(), nil)
	u.supplySelect.SetSelected(formatSupply(u.cfg.Supply.Voltage))

	u.connectBtn = widget.NewButtonWithIcon("Open Port", theme.LoginIcon(), u.handleConnect)
	u.startBtn = widget.NewButtonWithIcon("Start", theme.MediaPlayIcon(), u.handleStart)

	u.rateEntry = widget.NewEntry()
	u.rateEntry.SetText(strconv.FormatFloat(u.engine.Sampler.Rate(), 'g', -1, 64))
	u.rateEntry.OnSubmitted = func(text string) { u.handleRate(text) }

	checks := make([]fyne.CanvasObject, 0, len(u.cfg.Channels))
	for _, ch := range u.engine.Registry.All() {
		name := ch.Name
		check := widget.NewCheck(name, func(active bool) {
			u.handleChannel(name, active)
		})
		check.SetChecked(ch.Active)
		u.channelChecks = append(u.channelChecks, check)
		checks = append(checks, check)
	}

	return container.NewHBox(
		widget.NewLabel("Port"), u.portSelect,
		widget.NewLabel("Supply"), u.supplySelect,
		container.NewHBox(checks...),
		widget.NewLabel("Rate (Hz)"), u.rateEntry,
		u.connectBtn, u.startBtn,
	)
}

// createSettingsPanel creates the formula and metadata editors.
func (u *ui) createSettingsPanel() fyne.CanvasObject {
	u.formulaEntry = widget.NewEntry()
	u.formulaEntry.SetPlaceHolder("x")
	u.formulaEntry.SetText(u.engine.Sampler.Formula())

	u.metadataEntry = widget.NewMultiLineEntry()
	u.metadataEntry.SetText(u.cfg.Metadata)
	u.metadataEntry.Wrapping = fyne.TextWrapWord
	u.metadataEntry.SetMinRowsVisible(8)

	form := widget.NewForm(
		widget.NewFormItem("Formula", u.formulaEntry),
		widget.NewFormItem("Header", u.metadataEntry),
	)
	return container.NewGridWrap(fyne.NewSize(320, 320), form)
}

func (u *ui) handleConnect() {
	s := u.engine.Sampler
	if s.Connected() {
		if err := s.Disconnect(); err != nil {
			dialog.ShowError(fmt.Errorf("failed to disconnect: %w", err), u.window)
		}
		u.refreshControls()
		return
	}

	port := u.portNames[u.portSelect.Selected]
	if port == "" {
		port = u.portSelect.Selected
	}
	supply, err := parseSupply(u.supplySelect.Selected)
	if err != nil {
		dialog.ShowError(err, u.window)
		return
	}

	if err := s.Connect(port, u.cfg.Serial.BaudRate, supply); err != nil {
		dialog.ShowError(fmt.Errorf("failed to connect to %s: %w", port, err), u.window)
		return
	}
	u.cfg.Serial.Port = port
	u.cfg.Supply.Voltage = supply
	u.refreshControls()
}

func (u *ui) handleStart() {
	s := u.engine.Sampler
	if s.State() == sampler.Running {
		if err := s.Stop(); err != nil {
			dialog.ShowError(fmt.Errorf("failed to stop: %w", err), u.window)
		}
		u.refreshControls()
		return
	}

	if err := s.SetFormula(u.formulaEntry.Text); err != nil {
		dialog.ShowError(err, u.window)
		return
	}
	if err := s.SetMetadata(u.metadataEntry.Text); err != nil {
		dialog.ShowError(err, u.window)
		return
	}
	if !u.handleRate(u.rateEntry.Text) {
		return
	}

	if err := s.Start(); err != nil {
		dialog.ShowError(fmt.Errorf("failed to start: %w", err), u.window)
		return
	}
	u.cfg.Formula = s.Formula()
	u.cfg.Metadata = u.metadataEntry.Text
	u.refreshControls()
}

// handleRate applies the rate typed by the user and reports whether it parsed.
func (u *ui) handleRate(text string) bool {
	hz, err := parseRate(text)
	if err != nil {
		dialog.ShowError(err, u.window)
		return false
	}
	u.engine.Sampler.SetRate(hz)
	applied := u.engine.Sampler.Rate()
	u.cfg.Sampling.RateHz = applied
	u.rateEntry.SetText(strconv.FormatFloat(applied, 'g', -1, 64))
	return true
}

func (u *ui) handleChannel(name string, active bool) {
	if err := u.engine.Sampler.SetActive(name, active); err != nil {
		dialog.ShowError(err, u.window)
		return
	}
	for i := range u.cfg.Channels {
		if u.cfg.Channels[i].Name == name {
			u.cfg.Channels[i].Active = active
		}
	}
}

// onSample runs on the sampling goroutine.
func (u *ui) onSample(smp sample.Sample) {
	u.updateMu.Lock()
	now := time.Now()
	if now.Sub(u.lastUpdateTime) < updateInterval {
		u.updateMu.Unlock()
		return
	}
	u.lastUpdateTime = now
	u.updateMu.Unlock()

	fyne.Do(func() {
		u.scopeWidget.Update(u.engine.Sampler.Series())
		u.status.SetText(u.scopeWidget.Title())
	})
}

// refreshControls enables the controls valid in the current state.
func (u *ui) refreshControls() {
	s := u.engine.Sampler
	connected := s.Connected()
	running := s.State() == sampler.Running

	if connected {
		u.connectBtn.SetText("Close Port")
	} else {
		u.connectBtn.SetText("Open Port")
	}
	if running {
		u.startBtn.SetText("Stop")
		u.startBtn.SetIcon(theme.MediaStopIcon())
		u.status.SetText("Sampling to " + s.File())
	} else {
		u.startBtn.SetText("Start")
		u.startBtn.SetIcon(theme.MediaPlayIcon())
		if connected {
			u.status.SetText("Connected")
		} else {
			u.status.SetText("Disconnected")
		}
	}

	setEnabled(u.startBtn, connected)
	setEnabled(u.portSelect, !connected)
	setEnabled(u.supplySelect, !connected)
	setEnabled(u.formulaEntry, !running)
	setEnabled(u.metadataEntry, !running)
	for _, c := range u.channelChecks {
		setEnabled(c, !running)
	}
}

func (u *ui) saveConfig() {
	if err := u.cfg.Save(u.configPath); err != nil {
		u.engine.Log.WithError(err).Warn("failed to save configuration")
	}
}

func setEnabled(w fyne.Disableable, enabled bool) {
	if enabled {
		w.Enable()
	} else {
		w.Disable()
	}
}
