package vimputti

// Axis identifies a gamepad absolute axis by its evdev code.
type Axis uint16

const (
	AxisLeftStickX   Axis = 0x00 // ABS_X
	AxisLeftStickY   Axis = 0x01 // ABS_Y
	AxisLeftTrigger  Axis = 0x02 // ABS_Z
	AxisRightStickX  Axis = 0x03 // ABS_RX
	AxisRightStickY  Axis = 0x04 // ABS_RY
	AxisRightTrigger Axis = 0x05 // ABS_RZ
	AxisDpadX        Axis = 0x10 // ABS_HAT0X
	AxisDpadY        Axis = 0x11 // ABS_HAT0Y
)

// Gamepad button evdev codes shared by the templates.
const (
	BtnSouth  uint16 = 0x130
	BtnEast   uint16 = 0x131
	BtnNorth  uint16 = 0x133
	BtnWest   uint16 = 0x134
	BtnTL     uint16 = 0x136
	BtnTR     uint16 = 0x137
	BtnTL2    uint16 = 0x138
	BtnTR2    uint16 = 0x139
	BtnSelect uint16 = 0x13a
	BtnStart  uint16 = 0x13b
	BtnMode   uint16 = 0x13c
	BtnThumbL uint16 = 0x13d
	BtnThumbR uint16 = 0x13e
)

// AxisSpec declares one absolute axis of a device template.
type AxisSpec struct {
	Axis Axis  `json:"axis"`
	Min  int32 `json:"min"`
	Max  int32 `json:"max"`
}

// DeviceConfig describes a virtual gamepad for the daemon to create.
type DeviceConfig struct {
	Name    string     `json:"name"`
	Vendor  uint16     `json:"vendor"`
	Product uint16     `json:"product"`
	Buttons []uint16   `json:"buttons"`
	Axes    []AxisSpec `json:"axes"`
	Rumble  bool       `json:"rumble"`
}

func standardButtons() []uint16 {
	return []uint16{
		BtnSouth, BtnEast, BtnNorth, BtnWest,
		BtnTL, BtnTR, BtnTL2, BtnTR2,
		BtnSelect, BtnStart, BtnMode, BtnThumbL, BtnThumbR,
	}
}

func standardAxes() []AxisSpec {
	return []AxisSpec{
		{Axis: AxisLeftStickX, Min: -32768, Max: 32767},
		{Axis: AxisLeftStickY, Min: -32768, Max: 32767},
		{Axis: AxisRightStickX, Min: -32768, Max: 32767},
		{Axis: AxisRightStickY, Min: -32768, Max: 32767},
		{Axis: AxisLeftTrigger, Min: 0, Max: 255},
		{Axis: AxisRightTrigger, Min: 0, Max: 255},
		{Axis: AxisDpadX, Min: -1, Max: 1},
		{Axis: AxisDpadY, Min: -1, Max: 1},
	}
}

func template(name string, vendor, product uint16) DeviceConfig {
	return DeviceConfig{
		Name:    name,
		Vendor:  vendor,
		Product: product,
		Buttons: standardButtons(),
		Axes:    standardAxes(),
		Rumble:  true,
	}
}

// TemplatePS4 is a DualShock 4 layout.
func TemplatePS4() DeviceConfig {
	return template("Sony Interactive Entertainment Wireless Controller", 0x054c, 0x05c4)
}

// TemplatePS5 is a DualSense layout.
func TemplatePS5() DeviceConfig {
	return template("Sony Interactive Entertainment DualSense Wireless Controller", 0x054c, 0x0ce6)
}

// TemplateXbox360 is an Xbox 360 pad layout.
func TemplateXbox360() DeviceConfig {
	return template("Microsoft X-Box 360 pad", 0x045e, 0x028e)
}

// TemplateXboxOne is an Xbox One pad layout.
func TemplateXboxOne() DeviceConfig {
	return template("Microsoft X-Box One pad", 0x045e, 0x02d1)
}

// TemplateSwitchPro is a Switch Pro Controller layout.
func TemplateSwitchPro() DeviceConfig {
	return template("Nintendo Co., Ltd. Pro Controller", 0x057e, 0x2009)
}
