package slots

// Controls says which user controls bound to a slot are available
type Controls struct {
	Load            bool `json:"load"`
	EditWindow      bool `json:"edit_window"`
	EditInstruments bool `json:"edit_instruments"`
	Tempo           bool `json:"tempo"`
	Play            bool `json:"play"`
	Save            bool `json:"save"`
	Generate        bool `json:"generate"`
}

// Playback is the session-wide playback state
type Playback struct {
	Playing   ID   `json:"playing,omitempty"`
	Preparing bool `json:"preparing"`
}

// Project computes control availability from slot state. inputs maps each
// slot that can be generated into to the slots its generation consumes;
// derived slots in graph cannot be loaded from a file.
//
// A busy slot has every control disabled. A playing slot keeps only its
// play (stop) and tempo controls. While playback is being prepared the play
// control is disabled on every slot.
func Project(views map[ID]View, graph Graph, inputs map[ID][]ID, pb Playback) map[ID]Controls {
	out := make(map[ID]Controls, len(views))
	for id, v := range views {
		if v.Busy {
			out[id] = Controls{}
			continue
		}

		playing := pb.Playing == id
		idle := !playing
		ready := v.Ready()

		c := Controls{
			Load:            idle && len(graph[id]) == 0,
			EditWindow:      idle && ready,
			EditInstruments: idle && ready,
			Tempo:           ready,
			Play:            ready && !pb.Preparing,
			Save:            idle && ready,
		}

		if required, ok := inputs[id]; ok && idle {
			c.Generate = true
			for _, in := range required {
				if !views[in].Ready() {
					c.Generate = false
					break
				}
			}
		}
		out[id] = c
	}
	return out
}
