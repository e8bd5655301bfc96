package core

import "linewatch/protocol"

// MessageSpec is one message of the firmware dictionary.
type MessageSpec struct {
	Name     string
	Format   string
	Response bool
}

// Messages is the firmware dictionary. Ids are assigned in this order by
// both firmware and host, so entries may only be appended.
var Messages = []MessageSpec{
	{Name: "get_clock"},
	{Name: "clock", Format: "clock=%u", Response: true},
	{Name: "emergency_stop"},
	{Name: "is_shutdown", Format: "clock=%u", Response: true},
	{Name: "get_trace"},
	{Name: "trace_event", Format: "kind=%c port=%c pin=%c clock=%u value=%u", Response: true},
	{Name: "get_line_config"},
	{Name: "line_config", Format: "count=%c capacity=%c is_shutdown=%c", Response: true},
	{Name: "config_line_watch", Format: "oid=%c port=%c pin=%c pull=%c mode=%c"},
	{Name: "line_watch_remove", Format: "oid=%c"},
	{Name: "line_watch_query", Format: "oid=%c"},
	{Name: "line_state", Format: "oid=%c level=%c count=%u", Response: true},
	{Name: "line_event", Format: "oid=%c clock=%u count=%u", Response: true},
	{Name: "config_step_dir", Format: "step=%u dir=%u invert=%c"},
	{Name: "step_dir_enable", Format: "enable=%c"},
	{Name: "step_dir_query"},
	{Name: "step_dir_state", Format: "active=%c count=%i", Response: true},
	{Name: "get_dictionary", Format: "offset=%u count=%c"},
	{Name: "dictionary", Format: "offset=%u data=%*s", Response: true},
}

// DictionaryChunk bounds the data of one dictionary response so that it
// fits a single message block.
const DictionaryChunk = 40

// MessageIDs returns the id of every message as the firmware assigns them.
func MessageIDs() map[string]uint16 {
	ids := make(map[string]uint16, len(Messages))
	for i, m := range Messages {
		ids[m.Name] = uint16(i)
	}
	return ids
}

// MessageDictionary renders Messages the way CommandRegistry.GetDictionary
// renders a registry filled by LineWatch.Register.
func MessageDictionary() string {
	dict := ""
	for _, m := range Messages {
		if m.Format != "" {
			dict += m.Name + " " + m.Format + "\n"
		} else {
			dict += m.Name + "\n"
		}
	}
	return dict
}

// handleGetDictionary answers with up to count bytes of the dictionary
// starting at offset. An empty chunk marks the end.
func (lw *LineWatch) handleGetDictionary(data *[]byte) error {
	var offset, count uint32
	if err := protocol.DecodeVLQArgs(data, &offset, &count); err != nil {
		return err
	}
	if count > DictionaryChunk {
		count = DictionaryChunk
	}
	n := uint32(len(lw.dict))
	if offset > n {
		offset = n
	}
	end := offset + count
	if end > n {
		end = n
	}
	chunk := lw.dict[offset:end]
	return lw.reg.SendResponse("dictionary", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
}

// handleGetClock answers with the current tick count
func (lw *LineWatch) handleGetClock(data *[]byte) error {
	now := GetTime()
	return lw.reg.SendResponse("clock", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, now)
	})
}

// handleEmergencyStop releases every line and refuses further configuration
func (lw *LineWatch) handleEmergencyStop(data *[]byte) error {
	lw.Shutdown()
	return nil
}

// handleGetTrace streams the trace ring, oldest first
func (lw *LineWatch) handleGetTrace(data *[]byte) error {
	for _, evt := range TraceSnapshot() {
		evt := evt
		err := lw.reg.SendResponse("trace_event", func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, uint32(evt.Kind))
			protocol.EncodeVLQUint(output, uint32(evt.Port))
			protocol.EncodeVLQUint(output, uint32(evt.Pin))
			protocol.EncodeVLQUint(output, evt.Clock)
			protocol.EncodeVLQUint(output, evt.Value)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// handleGetLineConfig reports table occupancy
func (lw *LineWatch) handleGetLineConfig(data *[]byte) error {
	count, capacity := 0, 0
	for _, t := range []*Table{lw.edge, lw.polled} {
		if t != nil {
			count += t.Count()
			capacity += t.Capacity()
		}
	}
	shutdown := lw.IsShutdown()
	return lw.reg.SendResponse("line_config", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(count))
		protocol.EncodeVLQUint(output, uint32(capacity))
		protocol.EncodeVLQBool(output, shutdown)
	})
}
