package annot

import (
	"fmt"
	"sort"
	"strconv"
)

// CategoryMap maps numeric class ids to label names
type CategoryMap struct {
	Name    string         `json:"name"`
	Classes map[int]string `json:"classes"`
}

// Built-in category maps of the YOLO datasets that this tool labels for
var (
	YOLOTestSet = CategoryMap{
		Name: "YOLO Test Set",
		Classes: map[int]string{
			0:  "person",
			1:  "light-vehicle",
			2:  "heavy-vehicle",
			3:  "bike",
			4:  "traffic-light",
			5:  "traffic-sign",
			6:  "construction",
			7:  "train",
			8:  "animal",
			9:  "emergency-vehicle",
			10: "shopping-cart",
		},
	}
	YOLOTrainSet = CategoryMap{
		Name: "YOLO Train Set",
		Classes: map[int]string{
			0: "person",
			1: "vehicle",
			2: "bike",
			3: "traffic-reg",
			4: "construction",
			5: "train",
			6: "animal",
			7: "emergency-vehicle",
			8: "shopping-cart",
		},
	}
)

// Categories holds the available category maps, and which one is in use
type Categories struct {
	maps   []CategoryMap
	active int
}

// NewCategories returns the built-in maps plus any custom maps.
// A custom map with the same name as a built-in map replaces it.
func NewCategories(custom []CategoryMap) *Categories {
	c := &Categories{
		maps: []CategoryMap{YOLOTestSet, YOLOTrainSet},
	}
	for _, m := range custom {
		if i := c.find(m.Name); i >= 0 {
			c.maps[i] = m
		} else {
			c.maps = append(c.maps, m)
		}
	}
	return c
}

func (c *Categories) find(name string) int {
	for i, m := range c.maps {
		if m.Name == name {
			return i
		}
	}
	return -1
}

// Select makes the named map active
func (c *Categories) Select(name string) error {
	i := c.find(name)
	if i < 0 {
		return fmt.Errorf("Unknown category map '%v'", name)
	}
	c.active = i
	return nil
}

func (c *Categories) Active() CategoryMap {
	return c.maps[c.active]
}

func (c *Categories) Names() []string {
	names := make([]string, len(c.maps))
	for i, m := range c.maps {
		names[i] = m.Name
	}
	return names
}

// ClassID returns the class id of a label in the active map, or -1.
// A label that is itself a known class number is accepted too.
func (c *Categories) ClassID(label string) int {
	classes := c.Active().Classes
	for id, name := range classes {
		if name == label {
			return id
		}
	}
	if id, err := strconv.Atoi(label); err == nil {
		if _, ok := classes[id]; ok {
			return id
		}
	}
	return -1
}

// Label returns the name of a class in the active map
func (c *Categories) Label(id int) (string, bool) {
	name, ok := c.Active().Classes[id]
	return name, ok
}

// Labels returns the label names of the active map, ordered by class id
func (c *Categories) Labels() []string {
	classes := c.Active().Classes
	ids := make([]int, 0, len(classes))
	for id := range classes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = classes[id]
	}
	return out
}
