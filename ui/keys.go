package ui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Play     key.Binding
	Next     key.Binding
	Previous key.Binding
	Up       key.Binding
	Down     key.Binding
	Select   key.Binding
	Louder   key.Binding
	Quieter  key.Binding
	Mute     key.Binding
	Cancel   key.Binding
	Resume   key.Binding
	Help     key.Binding
	Quit     key.Binding
}

var keys = keyMap{
	Play:     key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "play/pause")),
	Next:     key.NewBinding(key.WithKeys("n", "right"), key.WithHelp("n", "next")),
	Previous: key.NewBinding(key.WithKeys("p", "left"), key.WithHelp("p", "previous")),
	Up:       key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("↑/k", "up")),
	Down:     key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("↓/j", "down")),
	Select:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "play item")),
	Louder:   key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "volume up")),
	Quieter:  key.NewBinding(key.WithKeys("-", "_"), key.WithHelp("-", "volume down")),
	Mute:     key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "mute")),
	Cancel:   key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "cancel conversion")),
	Resume:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "resume conversion")),
	Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Quit:     key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Play, k.Next, k.Previous, k.Mute, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Play, k.Next, k.Previous, k.Select},
		{k.Up, k.Down, k.Louder, k.Quieter, k.Mute},
		{k.Cancel, k.Resume, k.Help, k.Quit},
	}
}
