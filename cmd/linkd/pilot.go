package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"tellolink/pkg/link"
	"tellolink/pkg/protocol"
)

const (
	refreshInterval = 100 * time.Millisecond
	maxEventLines   = 5
)

// pilotLink is the part of *link.Link the pilot drives.
type pilotLink interface {
	SendControl(protocol.ControlVector) bool
	Control() protocol.ControlVector
	RequestTakeoff() bool
	RequestLand() bool
	RequestStream(on bool) bool
	Halt() bool
	Emergency() bool
	Close() error
	State() link.State
	Landed() bool
	Streaming() bool
	IsIdle() bool
	LastAck() (link.AckRecord, bool)
	Telemetry() (protocol.TelemetrySnapshot, bool)
	Events() <-chan link.Event
	Done() <-chan struct{}
	Err() error
}

type refreshMsg time.Time
type eventMsg link.Event
type closedMsg struct{}

type pilotModel struct {
	link    pilotLink
	step    int
	control protocol.ControlVector
	status  string
	events  []string
	closed  bool
}

func runPilotUI(l pilotLink, step int) error {
	_, err := tea.NewProgram(newPilotModel(l, step), tea.WithAltScreen()).Run()
	return err
}

func newPilotModel(l pilotLink, step int) pilotModel {
	if step <= 0 {
		step = 30
	}
	return pilotModel{
		link:    l,
		step:    step,
		control: l.Control(),
		status:  "ready",
	}
}

func (m pilotModel) Init() tea.Cmd {
	return tea.Batch(refresh(), waitEvent(m.link.Events()), waitClosed(m.link.Done()))
}

func refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

func waitEvent(events <-chan link.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

func waitClosed(done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-done
		return closedMsg{}
	}
}

func closeLink(l pilotLink) tea.Cmd {
	return func() tea.Msg {
		_ = l.Close()
		return closedMsg{}
	}
}

func (m pilotModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.updateKey(msg)
	case refreshMsg:
		return m, refresh()
	case eventMsg:
		m.events = append(m.events, formatEvent(link.Event(msg)))
		if len(m.events) > maxEventLines {
			m.events = m.events[len(m.events)-maxEventLines:]
		}
		return m, waitEvent(m.link.Events())
	case closedMsg:
		m.closed = true
		m.status = "link closed"
		if err := m.link.Err(); err != nil {
			m.status = "link closed: " + err.Error()
		}
		return m, nil
	}
	return m, nil
}

func (m pilotModel) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "enter":
		m.status = accepted("launch", m.link.RequestTakeoff() && m.link.RequestStream(true))
	case "t":
		m.status = accepted("takeoff", m.link.RequestTakeoff())
	case "l":
		m.status = accepted("land", m.link.RequestLand())
	case "v":
		m.status = accepted("stream on", m.link.RequestStream(true))
	case "V":
		m.status = accepted("stream off", m.link.RequestStream(false))
	case "h":
		m.status = accepted("halt", m.link.Halt())
		m.control = protocol.Neutral
	case "E":
		m.status = accepted("emergency stop", m.link.Emergency())
		m.control = protocol.Neutral
	case "c":
		m.status = "closing"
		return m, closeLink(m.link)
	default:
		next, ok := m.nudge(key)
		if !ok {
			return m, nil
		}
		m.control = next.Clamp()
		m.status = accepted("control", m.link.SendControl(m.control))
	}
	return m, nil
}

// nudge maps a stick key onto the control vector: WASD is throttle and yaw,
// the arrows are pitch and roll, space recentres every axis.
func (m pilotModel) nudge(key string) (protocol.ControlVector, bool) {
	v := m.control
	switch key {
	case "w":
		v.UpDown += m.step
	case "s":
		v.UpDown -= m.step
	case "a":
		v.Yaw -= m.step
	case "d":
		v.Yaw += m.step
	case "up":
		v.ForwardBack += m.step
	case "down":
		v.ForwardBack -= m.step
	case "left":
		v.LeftRight -= m.step
	case "right":
		v.LeftRight += m.step
	case " ":
		v = protocol.Neutral
	default:
		return v, false
	}
	return v, true
}

func accepted(what string, ok bool) string {
	if ok {
		return what + " accepted"
	}
	return what + " rejected"
}

func formatEvent(ev link.Event) string {
	line := ev.Time.Format("15:04:05.000") + " " + ev.Kind.String()
	if ev.Err != nil {
		line += ": " + ev.Err.Error()
	}
	return line
}

func (m pilotModel) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("tellolink pilot") + "  " + renderState(m.link.State()) + "\n\n")

	mode := renderFlag(!m.link.Landed(), "flying", "landed") + "  " +
		renderFlag(m.link.Streaming(), "streaming", "no stream") + "  " +
		renderFlag(!m.link.IsIdle(), "busy", "idle")
	b.WriteString(renderRow("mode", mode) + "\n")

	c := m.link.Control()
	b.WriteString(renderRow("control", fmt.Sprintf("lr %4d  fb %4d  ud %4d  yaw %4d", c.LeftRight, c.ForwardBack, c.UpDown, c.Yaw)) + "\n")

	if ack, ok := m.link.LastAck(); ok {
		age := time.Since(ack.ReceivedAt).Truncate(100 * time.Millisecond)
		b.WriteString(renderRow("last ack", renderAck(ack.Payload)+mutedStyle.Render(fmt.Sprintf("  %s ago", age))) + "\n")
	} else {
		b.WriteString(renderRow("last ack", mutedStyle.Render("none")) + "\n")
	}

	if t, ok := m.link.Telemetry(); ok {
		b.WriteString(renderRow("attitude", fmt.Sprintf("pitch %d  roll %d  yaw %d", t.Pitch, t.Roll, t.Yaw)) + "\n")
		b.WriteString(renderRow("velocity", fmt.Sprintf("x %d  y %d  z %d", t.VGX, t.VGY, t.VGZ)) + "\n")
		b.WriteString(renderRow("height", fmt.Sprintf("%d cm  tof %d cm  baro %.2f", t.Height, t.TimeOfFlight, t.Barometer)) + "\n")
		b.WriteString(renderRow("battery", fmt.Sprintf("%d%%  temp %d-%d C  up %ds", t.Battery, t.TempLow, t.TempHigh, t.Uptime)) + "\n")
	} else {
		b.WriteString(renderRow("telemetry", mutedStyle.Render("waiting")) + "\n")
	}

	b.WriteString(renderRow("status", m.status) + "\n")
	if len(m.events) > 0 {
		b.WriteString("\n")
		for _, line := range m.events {
			b.WriteString(mutedStyle.Render(line) + "\n")
		}
	}

	b.WriteString("\n" + hintStyle.Render("enter launch · t takeoff · l land · v/V stream · h halt · E emergency · c close · q quit"))
	b.WriteString("\n" + hintStyle.Render("w/s up/down · a/d yaw · arrows pitch/roll · space neutral"))
	return containerStyle.Render(b.String()) + "\n"
}
