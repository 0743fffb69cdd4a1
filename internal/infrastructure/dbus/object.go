package dbus

import (
	godbus "github.com/godbus/dbus/v5"
)

// Interface and member names of the Venus OS object model.
const (
	BusItemInterface    = "com.victronenergy.BusItem"
	PropertiesInterface = "org.freedesktop.DBus.Properties"

	SignalItemsChanged      = "ItemsChanged"
	SignalPropertiesChanged = "PropertiesChanged"

	// RootPath is the object exposing GetItems and the flattened value maps.
	RootPath = "/"
)

// SetValue result codes returned to callers of com.victronenergy.BusItem.SetValue.
const (
	SetOK       int32 = 0
	SetRejected int32 = 1
)

// Handler serves the object tree of one exported service.
// Paths are absolute ("/Dc/0/Voltage").
type Handler interface {
	// Value returns the variant stored at path; ok is false for unknown paths.
	Value(path string) (v godbus.Variant, ok bool)

	// Text returns the display text of path.
	Text(path string) (text string, ok bool)

	// SetValue handles a remote write and returns SetOK or SetRejected.
	SetValue(path string, v godbus.Variant) int32

	// Items returns {path: {"Value": v, "Text": t}} for every path.
	Items() map[string]map[string]godbus.Variant
}

// item is exported at every property path.
type item struct {
	path string
	h    Handler
}

// GetValue implements com.victronenergy.BusItem.GetValue.
func (i *item) GetValue() (godbus.Variant, *godbus.Error) {
	v, ok := i.h.Value(i.path)
	if !ok {
		return Invalid(), nil
	}
	return v, nil
}

// GetText implements com.victronenergy.BusItem.GetText.
func (i *item) GetText() (string, *godbus.Error) {
	t, _ := i.h.Text(i.path)
	return t, nil
}

// SetValue implements com.victronenergy.BusItem.SetValue.
func (i *item) SetValue(v godbus.Variant) (int32, *godbus.Error) {
	return i.h.SetValue(i.path, v), nil
}

// root is exported at "/". Its values are maps keyed by path without the
// leading slash, the way Venus OS services expose their tree.
type root struct {
	h Handler
}

func (r *root) values() map[string]godbus.Variant {
	items := r.h.Items()
	out := make(map[string]godbus.Variant, len(items))
	for p, props := range items {
		out[trimSlash(p)] = props["Value"]
	}
	return out
}

func (r *root) texts() map[string]string {
	items := r.h.Items()
	out := make(map[string]string, len(items))
	for p, props := range items {
		if s, ok := props["Text"].Value().(string); ok {
			out[trimSlash(p)] = s
		}
	}
	return out
}

// GetItems implements com.victronenergy.BusItem.GetItems.
func (r *root) GetItems() (map[string]map[string]godbus.Variant, *godbus.Error) {
	return r.h.Items(), nil
}

// GetValue returns every value keyed by relative path.
func (r *root) GetValue() (godbus.Variant, *godbus.Error) {
	return godbus.MakeVariant(r.values()), nil
}

// GetText returns every text keyed by relative path.
func (r *root) GetText() (godbus.Variant, *godbus.Error) {
	return godbus.MakeVariant(r.texts()), nil
}

// SetValue is rejected: the root is read-only.
func (r *root) SetValue(godbus.Variant) (int32, *godbus.Error) {
	return SetRejected, nil
}

// properties mirrors the BusItem values through org.freedesktop.DBus.Properties.
// The exposed properties are "Value" and "Text".
type properties struct {
	get func() map[string]godbus.Variant
	set func(godbus.Variant) int32
}

func itemProperties(i *item) *properties {
	return &properties{
		get: func() map[string]godbus.Variant {
			v, _ := i.GetValue()
			t, _ := i.GetText()
			return map[string]godbus.Variant{"Value": v, "Text": godbus.MakeVariant(t)}
		},
		set: func(v godbus.Variant) int32 {
			rc, _ := i.SetValue(v)
			return rc
		},
	}
}

func rootProperties(r *root) *properties {
	return &properties{
		get: func() map[string]godbus.Variant {
			return map[string]godbus.Variant{
				"Value": godbus.MakeVariant(r.values()),
				"Text":  godbus.MakeVariant(r.texts()),
			}
		},
		set: func(godbus.Variant) int32 { return SetRejected },
	}
}

// Get implements org.freedesktop.DBus.Properties.Get.
func (p *properties) Get(_ string, name string) (godbus.Variant, *godbus.Error) {
	v, ok := p.get()[name]
	if !ok {
		return godbus.Variant{}, godbus.MakeFailedError(unknownProperty(name))
	}
	return v, nil
}

// GetAll implements org.freedesktop.DBus.Properties.GetAll.
func (p *properties) GetAll(string) (map[string]godbus.Variant, *godbus.Error) {
	return p.get(), nil
}

// Set implements org.freedesktop.DBus.Properties.Set. Only "Value" is writable.
func (p *properties) Set(_ string, name string, v godbus.Variant) *godbus.Error {
	if name != "Value" {
		return godbus.MakeFailedError(unknownProperty(name))
	}
	if p.set(v) != SetOK {
		return godbus.MakeFailedError(errReadOnly)
	}
	return nil
}

type propertyError string

func (e propertyError) Error() string { return string(e) }

const errReadOnly = propertyError("property is read-only")

func unknownProperty(name string) error {
	return propertyError("unknown property " + name)
}

func trimSlash(p string) string {
	if len(p) > 0 && p[0] == '/' {
		return p[1:]
	}
	return p
}
