package watch

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the watcher's keyboard bindings.
type KeyMap struct {
	Quit  key.Binding
	Clear key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Clear: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "clear"),
		),
	}
}
