package device

import "strings"

// Device categories
const (
	CategoryStorage  = "storage"
	CategoryInput    = "input"
	CategoryAudio    = "audio"
	CategoryCamera   = "camera"
	CategoryWireless = "wireless"
	CategoryNetwork  = "network"
	CategorySerial   = "serial"
	CategoryPortable = "portable"
	CategoryHub      = "hub"
	CategoryOther    = "other"
)

// Rule matches a device when every non-empty condition is a case-insensitive
// substring of the corresponding field.
type Rule struct {
	Class    string `yaml:"class,omitempty" json:"class,omitempty"`
	Name     string `yaml:"name,omitempty" json:"name,omitempty"`
	Category string `yaml:"category" json:"category"`
}

func (r Rule) matches(class, name string) bool {
	if r.Class == "" && r.Name == "" {
		return false
	}
	if r.Class != "" && !strings.Contains(strings.ToLower(class), strings.ToLower(r.Class)) {
		return false
	}
	if r.Name != "" && !strings.Contains(strings.ToLower(name), strings.ToLower(r.Name)) {
		return false
	}
	return true
}

// DefaultRules is the built-in rule set. Storage rules come first so that
// "USB" class mass-storage devices are not swallowed by the generic hub rule.
var DefaultRules = []Rule{
	{Class: "SCSIAdapter", Category: CategoryStorage},
	{Class: "DiskDrive", Category: CategoryStorage},
	{Class: "MassStorage", Category: CategoryStorage},
	{Class: "USB", Name: "Storage", Category: CategoryStorage},
	{Name: "Mass Storage", Category: CategoryStorage},
	{Class: "HIDClass", Category: CategoryInput},
	{Class: "Keyboard", Category: CategoryInput},
	{Class: "Mouse", Category: CategoryInput},
	{Class: "AudioEndpoint", Category: CategoryAudio},
	{Class: "MEDIA", Category: CategoryAudio},
	{Class: "Audio", Category: CategoryAudio},
	{Class: "Camera", Category: CategoryCamera},
	{Class: "Image", Category: CategoryCamera},
	{Class: "Video", Category: CategoryCamera},
	{Class: "Bluetooth", Category: CategoryWireless},
	{Class: "Wireless", Category: CategoryWireless},
	{Class: "Net", Category: CategoryNetwork},
	{Class: "Ports", Category: CategorySerial},
	{Class: "CDC", Category: CategorySerial},
	{Class: "WPD", Category: CategoryPortable},
	{Class: "USBHub", Category: CategoryHub},
	{Name: "Hub", Category: CategoryHub},
}

// Classifier maps a reported class string (and name) to a category using an
// ordered list of rules. First match wins.
type Classifier struct {
	rules []Rule
}

// NewClassifier builds a classifier. A nil or empty rule list uses DefaultRules.
func NewClassifier(rules []Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	r := make([]Rule, len(rules))
	copy(r, rules)
	return &Classifier{rules: r}
}

// Classify returns the category of the first matching rule, or CategoryOther
func (c *Classifier) Classify(class, name string) string {
	for _, r := range c.rules {
		if r.matches(class, name) {
			return r.Category
		}
	}
	return CategoryOther
}

// IsStorage reports whether storage metadata should be queried for the device
func (c *Classifier) IsStorage(dev ObservedDevice) bool {
	return c.Classify(dev.Class, dev.Name) == CategoryStorage
}
