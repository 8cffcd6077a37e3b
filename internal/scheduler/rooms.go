package scheduler

import (
	"fmt"
	"math"
	"strings"

	"github.com/noah-isme/timetable-api/internal/models"
)

// Inventory is the room list with the virtual room appended.
type Inventory struct {
	rooms []models.Room
	index map[string]int
}

// NewInventory de-duplicates rooms by id and appends the virtual room when absent.
func NewInventory(rooms []models.Room) (*Inventory, []string) {
	inv := &Inventory{index: make(map[string]int, len(rooms)+1)}
	var warnings []string
	for _, room := range rooms {
		room.ID = strings.TrimSpace(room.ID)
		room.Type = strings.TrimSpace(room.Type)
		if room.ID == "" {
			warnings = append(warnings, "room without id skipped")
			continue
		}
		if _, dup := inv.index[room.ID]; dup {
			warnings = append(warnings, fmt.Sprintf("room %s repeated; first occurrence kept", room.ID))
			continue
		}
		if room.Capacity < 0 {
			warnings = append(warnings, fmt.Sprintf("room %s has negative capacity; treated as 0", room.ID))
			room.Capacity = 0
		}
		if room.ID == models.VirtualRoomID {
			room.Type = models.RoomTypeVirtual
			room.Capacity = math.MaxInt32
		}
		inv.index[room.ID] = len(inv.rooms)
		inv.rooms = append(inv.rooms, room)
	}
	if _, ok := inv.index[models.VirtualRoomID]; !ok {
		inv.index[models.VirtualRoomID] = len(inv.rooms)
		inv.rooms = append(inv.rooms, models.Room{
			ID:       models.VirtualRoomID,
			Capacity: math.MaxInt32,
			Type:     models.RoomTypeVirtual,
		})
	}
	return inv, warnings
}

// Len returns the number of rooms including the virtual one.
func (inv *Inventory) Len() int { return len(inv.rooms) }

// Room returns room i.
func (inv *Inventory) Room(i int) models.Room { return inv.rooms[i] }

// Lookup resolves a room id.
func (inv *Inventory) Lookup(id string) (int, bool) {
	i, ok := inv.index[strings.TrimSpace(id)]
	return i, ok
}

// Rooms returns every room.
func (inv *Inventory) Rooms() []models.Room { return inv.rooms }

// Suits reports whether room i can host task t, ignoring time.
func (inv *Inventory) Suits(i int, t Task) bool {
	room := inv.rooms[i]
	if t.Online != room.IsVirtual() {
		return false
	}
	if room.IsVirtual() {
		return true
	}
	if room.Capacity < t.Enrollment {
		return false
	}
	if t.Kind == models.SessionLab && t.LabRoomType != "" {
		return strings.EqualFold(room.Type, t.LabRoomType) || strings.EqualFold(room.ID, t.LabRoomType)
	}
	return true
}
