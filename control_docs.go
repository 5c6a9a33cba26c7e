package main

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
)

// ControlDoc describes one drone input together with its keyboard shortcut and
// the phone gesture that produces the same effect.
type ControlDoc struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Shortcut    string `json:"shortcut,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Note        string `json:"note,omitempty"`
}

// defaultControlDocs mirrors the bindings handled by the controls package.
var defaultControlDocs = []ControlDoc{
	{
		ID:          "pitch",
		Label:       "Forward / Back",
		Description: "Tilt the drone to fly forward or backward.",
		Shortcut:    "W / S, Arrow Up / Arrow Down",
		Phone:       "Left stick up / down",
	},
	{
		ID:          "strafe",
		Label:       "Strafe",
		Description: "Slide left or right without turning.",
		Shortcut:    "A / D, Arrow Left / Arrow Right",
		Phone:       "Left stick left / right",
	},
	{
		ID:          "altitude",
		Label:       "Altitude",
		Description: "Climb or descend. The drone never sinks below the terrain.",
		Shortcut:    "Space / Shift",
		Phone:       "Right stick up / down",
		Note:        "Space climbs. It is not a boost key, even where a game banner says SPACE TO BOOST.",
	},
	{
		ID:          "boost",
		Label:       "Boost",
		Description: "Hold to burn energy for extra speed.",
		Shortcut:    "B",
		Phone:       "Boost button",
		Note:        "Boost has its own key because Space and Shift drive altitude.",
	},
	{
		ID:          "flip-front",
		Label:       "Front / Back Flip",
		Description: "Full rotation around the pitch axis. Flips queue while one is in progress.",
		Shortcut:    "Double tap W or S",
		Phone:       "Flip button, or swipe up / down",
	},
	{
		ID:          "flip-side",
		Label:       "Side Flip",
		Description: "Full rotation around the roll axis.",
		Shortcut:    "Q / E",
		Phone:       "Swipe left / right",
	},
	{
		ID:          "gyro",
		Label:       "Tilt Steering",
		Description: "Steer by tilting the phone once tilt steering is enabled in the game.",
		Phone:       "Tilt the phone",
	},
}

// registerControlDocEndpoints serves the control reference used by the game and controller pages.
func registerControlDocEndpoints(mux *http.ServeMux) {
	mux.HandleFunc("/api/controls", func(w http.ResponseWriter, r *http.Request) {
		docs := append([]ControlDoc(nil), defaultControlDocs...)
		sort.SliceStable(docs, func(i, j int) bool {
			if docs[i].Label == docs[j].Label {
				return strings.Compare(docs[i].ID, docs[j].ID) < 0
			}
			return strings.Compare(docs[i].Label, docs[j].Label) < 0
		})

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(docs); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
