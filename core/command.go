package core

import (
	"errors"
	"sync"

	"linewatch/protocol"
)

// CommandHandler decodes its own arguments from data
type CommandHandler func(data *[]byte) error

// ResponseSender frames one outgoing message
type ResponseSender func(cmdID uint16, args func(output protocol.OutputBuffer)) error

// Command is one entry of the message dictionary.
// Responses (MCU to host) have a nil Handler.
type Command struct {
	ID      uint16
	Name    string
	Format  string // e.g. "oid=%c pin=%c"
	Handler CommandHandler
}

// CommandRegistry assigns ids in registration order and dispatches by id
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[uint16]*Command
	nameToID map[string]uint16
	nextID   uint16
	sender   ResponseSender
}

// ErrNoSender is returned by SendResponse before SetSender
var ErrNoSender = errors.New("no response sender")

var globalRegistry = NewCommandRegistry()

// NewCommandRegistry creates an empty registry
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[uint16]*Command),
		nameToID: make(map[string]uint16),
	}
}

// GetGlobalRegistry returns the registry used by the firmware main loop
func GetGlobalRegistry() *CommandRegistry {
	return globalRegistry
}

// DispatchCommand dispatches on the global registry
func DispatchCommand(cmdID uint16, data *[]byte) error {
	return globalRegistry.Dispatch(cmdID, data)
}

// Register adds a message; registering a known name returns its existing id
func (r *CommandRegistry) Register(name string, format string, handler CommandHandler) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, exists := r.nameToID[name]; exists {
		return id
	}

	id := r.nextID
	r.nextID++
	r.commands[id] = &Command{ID: id, Name: name, Format: format, Handler: handler}
	r.nameToID[name] = id
	return id
}

// RegisterResponse adds a response message
func (r *CommandRegistry) RegisterResponse(name string, format string) uint16 {
	return r.Register(name, format, nil)
}

// GetCommand retrieves a message by id
func (r *CommandRegistry) GetCommand(id uint16) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[id]
	return cmd, ok
}

// Count returns the number of registered messages
func (r *CommandRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch runs the handler registered under cmdID
func (r *CommandRegistry) Dispatch(cmdID uint16, data *[]byte) error {
	cmd, ok := r.GetCommand(cmdID)
	if !ok {
		return errors.New("unknown command ID: " + itoa(int(cmdID)))
	}
	if cmd.Handler == nil {
		return errors.New("command " + cmd.Name + " is a response")
	}
	return cmd.Handler(data)
}

// GetDictionary returns one "name format" line per message, in id order
func (r *CommandRegistry) GetDictionary() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dict := ""
	for i := uint16(0); i < r.nextID; i++ {
		cmd, ok := r.commands[i]
		if !ok {
			continue
		}
		if cmd.Format != "" {
			dict += cmd.Name + " " + cmd.Format + "\n"
		} else {
			dict += cmd.Name + "\n"
		}
	}
	return dict
}

// SetSender installs the function that frames responses
func (r *CommandRegistry) SetSender(s ResponseSender) {
	r.mu.Lock()
	r.sender = s
	r.mu.Unlock()
}

// SendResponse frames the named response through the sender.
// Sending an unregistered name is a programming error and panics.
func (r *CommandRegistry) SendResponse(name string, args func(output protocol.OutputBuffer)) error {
	r.mu.RLock()
	id, ok := r.nameToID[name]
	sender := r.sender
	r.mu.RUnlock()

	if !ok {
		panic("response not registered: " + name)
	}
	if sender == nil {
		return ErrNoSender
	}
	return sender(id, args)
}
