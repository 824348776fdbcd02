package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/newhook/jtag-adi/adi"
	"github.com/newhook/jtag-adi/cable"
	"github.com/newhook/jtag-adi/jtag"
)

// IDCODE instruction on ARM debug TAPs.
const idcodeIR = 14

// External debug and CTI register offsets (ARMv8 debug memory map).
const (
	edscr  = 0x088
	edprsr = 0x314
	lar    = 0xFB0

	ctiControl  = 0x000
	ctiIntAck   = 0x010
	ctiAppPulse = 0x01C
	ctiOutEn0   = 0x0A0
	ctiOutEn1   = 0x0A4
	ctiGate     = 0x140

	unlockKey = 0xC5ACCE55

	edprsrHalted = 1 << 4
)

// DP CTRL/STAT bits shown in the status pane.
const (
	csysPwrUpAck = 1 << 31
	cdbgPwrUpAck = 1 << 29
	stickyErr    = 1 << 5
	stickyOrun   = 1 << 1
)

// memWords is the size of the visible memory window.
const memWords = 32

// TargetState holds a snapshot of the status registers for change
// detection.
type TargetState struct {
	CtrlStat uint32
	Edscr    uint32
	Edprsr   uint32
}

// Add tick command for periodic target refresh
type refreshTick struct{}

func doRefresh() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return refreshTick{}
	})
}

// Monitor represents the UI state
type Monitor struct {
	mem     *adi.MemAP
	engine  *adi.ArmDebugInterface
	apNum   uint32
	cpuBase uint32
	ctiBase uint32

	paused bool
	width  int
	height int

	memoryAddress uint32
	words         [memWords]uint32
	lastWords     [memWords]uint32

	state     TargetState
	lastState TargetState

	gotoInput   textinput.Model
	showingGoto bool
	pokeInput   textinput.Model
	showingPoke bool

	status string // last error or action, shown in the help line
}

// Define some basic styles
var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	changed   = lipgloss.AdaptiveColor{Light: "#FF6B6B", Dark: "#FF6B6B"}

	titleStyle = lipgloss.NewStyle().
			Foreground(subtle).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(highlight).
			Padding(1).
			Width(40)

	changedStyle = lipgloss.NewStyle().
			Foreground(changed).
			Bold(true)

	memoryStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(special).
			Padding(1).
			Width(60)
)

// NewMonitor initializes the UI around an open MemAP.
func NewMonitor(engine *adi.ArmDebugInterface, mem *adi.MemAP, apNum, cpuBase, ctiBase, addr uint32) *Monitor {
	gi := textinput.New()
	gi.Placeholder = "Enter hex address (e.g. 80090000)"
	gi.CharLimit = 8
	gi.Width = 10

	pi := textinput.New()
	pi.Placeholder = "addr=value (hex)"
	pi.CharLimit = 17
	pi.Width = 18

	m := &Monitor{
		mem:           mem,
		engine:        engine,
		apNum:         apNum,
		cpuBase:       cpuBase,
		ctiBase:       ctiBase,
		memoryAddress: addr,
		gotoInput:     gi,
		pokeInput:     pi,
	}
	m.refresh()
	return m
}

// refresh pulls the memory window and status registers from the target.
func (m *Monitor) refresh() {
	m.lastWords = m.words
	m.lastState = m.state

	vals, err := m.mem.ReadBlock(m.memoryAddress, memWords, true)
	if err != nil {
		m.status = fmt.Sprintf("read %08x: %v", m.memoryAddress, err)
		return
	}
	copy(m.words[:], vals)

	stat, err := m.engine.ReadADI(m.apNum, adi.DP, adi.DPCtrlStat)
	if err != nil {
		m.status = fmt.Sprintf("ctrl/stat: %v", err)
		return
	}
	m.state.CtrlStat = stat

	if m.cpuBase != 0 {
		if v, err := m.mem.Read(m.cpuBase + edscr); err == nil {
			m.state.Edscr = v
		}
		if v, err := m.mem.Read(m.cpuBase + edprsr); err == nil {
			m.state.Edprsr = v
		}
	}
	m.status = ""
}

// ctiPulse unlocks the CTI and pulses one channel into the core.
func (m *Monitor) ctiPulse(outEn uint32, channel uint32) error {
	seq := []struct {
		off uint32
		val uint32
	}{
		{lar, unlockKey},
		{ctiControl, 1},
		{ctiGate, 0},
		{outEn, channel},
		{ctiAppPulse, channel},
		{ctiIntAck, 3},
	}
	for _, s := range seq {
		if err := m.mem.Write(m.ctiBase+s.off, s.val); err != nil {
			return err
		}
	}
	return nil
}

func (m *Monitor) halt() {
	if m.ctiBase == 0 {
		m.status = "no -cti-base configured"
		return
	}
	if err := m.ctiPulse(ctiOutEn0, 1); err != nil {
		m.status = fmt.Sprintf("halt: %v", err)
		return
	}
	m.status = "halt requested"
}

func (m *Monitor) resume() {
	if m.ctiBase == 0 {
		m.status = "no -cti-base configured"
		return
	}
	if err := m.ctiPulse(ctiOutEn1, 2); err != nil {
		m.status = fmt.Sprintf("resume: %v", err)
		return
	}
	m.status = "resume requested"
}

// Format memory panel content with change highlighting
func (m Monitor) formatMemory() string {
	var result strings.Builder
	addr := m.memoryAddress

	for row := 0; row < memWords/4; row++ {
		result.WriteString(fmt.Sprintf("%08X: ", addr))

		for col := 0; col < 4; col++ {
			offset := row*4 + col
			value := m.words[offset]
			cell := fmt.Sprintf("%08X ", value)
			if value != m.lastWords[offset] {
				result.WriteString(changedStyle.Render(cell))
			} else {
				result.WriteString(cell)
			}
		}

		// ASCII representation
		result.WriteString(" | ")
		for col := 0; col < 4; col++ {
			offset := row*4 + col
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], m.words[offset])
			for _, ch := range b {
				if ch >= 32 && ch <= 126 {
					result.WriteString(string(ch))
				} else {
					result.WriteString(".")
				}
			}
		}

		result.WriteString("\n")
		addr += 16
	}

	return result.String()
}

// Format a status register with highlighting if changed
func (m Monitor) formatReg(name string, current, last uint32) string {
	value := fmt.Sprintf("%s: %08X", name, current)
	if current != last {
		return changedStyle.Render(value)
	}
	return value
}

// formatFlags renders the interesting CTRL/STAT bits.
func (m Monitor) formatFlags() string {
	flags := []struct {
		name string
		flag uint32
	}{
		{"SYSPWR", csysPwrUpAck},
		{"DBGPWR", cdbgPwrUpAck},
		{"STICKYERR", stickyErr},
		{"STICKYORUN", stickyOrun},
	}

	var result strings.Builder
	for _, f := range flags {
		current := m.state.CtrlStat&f.flag != 0
		last := m.lastState.CtrlStat&f.flag != 0
		if current {
			if current != last {
				result.WriteString(changedStyle.Render(f.name + " "))
			} else {
				result.WriteString(f.name + " ")
			}
		} else {
			result.WriteString("- ")
		}
	}
	return result.String()
}

func (m Monitor) coreState() string {
	if m.cpuBase == 0 {
		return "n/a"
	}
	if m.state.Edprsr&edprsrHalted != 0 {
		return "halted"
	}
	return "running"
}

// Implementation of tea.Model interface
func (m Monitor) Init() tea.Cmd {
	return doRefresh()
}

// Handle keyboard input
func (m Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case refreshTick:
		if !m.paused {
			m.refresh()
		}
		return m, doRefresh()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		if m.showingGoto {
			switch msg.Type {
			case tea.KeyEnter:
				if addr, err := strconv.ParseUint(m.gotoInput.Value(), 16, 32); err == nil {
					m.memoryAddress = uint32(addr) &^ 3
					m.refresh()
				}
				m.showingGoto = false
				return m, nil
			case tea.KeyEsc:
				m.showingGoto = false
				return m, nil
			}
			var cmd tea.Cmd
			m.gotoInput, cmd = m.gotoInput.Update(msg)
			return m, cmd
		}
		if m.showingPoke {
			switch msg.Type {
			case tea.KeyEnter:
				m.poke(m.pokeInput.Value())
				m.showingPoke = false
				return m, nil
			case tea.KeyEsc:
				m.showingPoke = false
				return m, nil
			}
			var cmd tea.Cmd
			m.pokeInput, cmd = m.pokeInput.Update(msg)
			return m, cmd
		}

		switch msg.String() {
		case "g":
			m.showingGoto = true
			m.gotoInput.SetValue("")
			m.gotoInput.Focus()
			return m, textinput.Blink
		case "w":
			m.showingPoke = true
			m.pokeInput.SetValue("")
			m.pokeInput.Focus()
			return m, textinput.Blink
		case "q", "ctrl+c":
			return m, tea.Quit
		case "h":
			m.halt()
			m.refresh()
		case "r":
			m.resume()
			m.refresh()
		case "p":
			m.paused = !m.paused
		case "up":
			if m.memoryAddress >= 16 {
				m.memoryAddress -= 16
				m.refresh()
			}
		case "down":
			m.memoryAddress += 16
			m.refresh()
		case "pgup":
			if m.memoryAddress >= memWords*4 {
				m.memoryAddress -= memWords * 4
				m.refresh()
			}
		case "pgdown":
			m.memoryAddress += memWords * 4
			m.refresh()
		}
	}
	return m, nil
}

// poke parses "addr=value" and writes the word to the target.
func (m *Monitor) poke(input string) {
	addrStr, valStr, ok := strings.Cut(input, "=")
	if !ok {
		m.status = "poke: expected addr=value"
		return
	}
	addr, err := strconv.ParseUint(strings.TrimSpace(addrStr), 16, 32)
	if err != nil {
		m.status = fmt.Sprintf("poke: bad address: %v", err)
		return
	}
	val, err := strconv.ParseUint(strings.TrimSpace(valStr), 16, 32)
	if err != nil {
		m.status = fmt.Sprintf("poke: bad value: %v", err)
		return
	}
	if err := m.mem.Write(uint32(addr), uint32(val)); err != nil {
		m.status = fmt.Sprintf("poke: %v", err)
		return
	}
	m.status = fmt.Sprintf("wrote %08X to %08X", uint32(val), uint32(addr))
	m.refresh()
}

func (m Monitor) View() string {
	memory := memoryStyle.Render(fmt.Sprintf(
		"Memory (↑↓ to scroll)\n\n%s",
		m.formatMemory(),
	))

	target := infoStyle.Render(fmt.Sprintf(
		"Target\n\n%s\nFlags: %s\n\nCore: %s\n%s\n%s\n",
		m.formatReg("CTRL/STAT", m.state.CtrlStat, m.lastState.CtrlStat),
		m.formatFlags(),
		m.coreState(),
		m.formatReg("EDSCR ", m.state.Edscr, m.lastState.Edscr),
		m.formatReg("EDPRSR", m.state.Edprsr, m.lastState.Edprsr),
	))

	var help string
	if m.status != "" {
		help = titleStyle.Render(m.status)
	} else {
		help = titleStyle.Render(
			"g: goto • w: write • h: halt • r: resume • p: pause • " +
				"↑↓: scroll • pgup/pgdn: page • q: quit",
		)
	}

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		memory,
		target,
	)

	if m.showingGoto || m.showingPoke {
		input := m.gotoInput
		title := "Go to address:"
		if m.showingPoke {
			input = m.pokeInput
			title = "Write word:"
		}
		dialog := lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(1).
			Width(30).
			Render(title + "\n\n" + input.View())

		return lipgloss.JoinVertical(
			lipgloss.Center,
			content,
			help,
			dialog,
		)
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		content,
		help,
	)
}

func parseInt(s string) (uint32, error) {
	if strings.HasPrefix(s, "$") {
		s = "0x" + s[1:]
	}
	v, err := strconv.ParseUint(s, 0, 32)
	return uint32(v), err
}

func main() {
	cableSpec := flag.String("cable", "", "JTAG cable (rbb:host:port or serial:/dev/...)")
	baud := flag.Uint("baud", 115200, "Serial cable baud rate")
	tapIndex := flag.Int("tap", 0, "Which JTAG TAP to use")
	apNum := flag.Uint("ap", 0, "Which access port to use")
	cpuBaseStr := flag.String("cpu-base", "", "External debug base address")
	ctiBaseStr := flag.String("cti-base", "", "CTI base address")
	addrStr := flag.String("a", "0", "Start address for the memory view")
	flag.Parse()

	addr, err := parseInt(*addrStr)
	if err != nil {
		fmt.Printf("Error parsing start address: %v\n", err)
		return
	}
	var cpuBase, ctiBase uint32
	if *cpuBaseStr != "" {
		if cpuBase, err = parseInt(*cpuBaseStr); err != nil {
			fmt.Printf("Error parsing cpu base: %v\n", err)
			return
		}
	}
	if *ctiBaseStr != "" {
		if ctiBase, err = parseInt(*ctiBaseStr); err != nil {
			fmt.Printf("Error parsing cti base: %v\n", err)
			return
		}
	}

	c, err := cable.Open(*cableSpec, uint32(*baud))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer c.Close()

	taps := jtag.NewTaps(jtag.NewSM(c))
	taps.Detect()
	taps.SelectTap(*tapIndex, []byte{idcodeIR})
	idcode := binary.LittleEndian.Uint32(taps.ReadDR(32))
	if err := taps.Err(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if idcode&0xFFF != 0x477 {
		fmt.Fprintf(os.Stderr, "warning: unexpected idcode %#x\n", idcode)
	}

	engine, err := adi.New(taps)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	mem, err := adi.NewMemAP(engine, uint32(*apNum))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	p := tea.NewProgram(NewMonitor(engine, mem, uint32(*apNum), cpuBase, ctiBase, addr))
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running program: %v", err)
	}
}
