package props

import (
	"github.com/lightsheet/acquire/frame"
)

// TriggerEdge selects the signal edge a trigger fires on.
type TriggerEdge uint8

const (
	TriggerEdgeRising TriggerEdge = iota
	TriggerEdgeFalling
	TriggerEdgeAnyEdge
	TriggerEdgeLevelHigh
	TriggerEdgeLevelLow
)

// Trigger describes one input or output trigger line.
type Trigger struct {
	Enable bool        `json:"enable"`
	Line   uint8       `json:"line"`
	Edge   TriggerEdge `json:"edge"`
}

// Direction is the sensor readout direction.
type Direction uint8

const (
	DirectionForward Direction = iota
	DirectionBackward
)

// PixelScale is the physical size of one pixel in microns.
type PixelScale struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CameraProperties can be populated with values from a camera or can be
// filled out to define new values that a camera should adopt.
type CameraProperties struct {
	// Exposure time of a frame in microseconds. Exposure is always
	// manually specified by this period of time; auto-exposure and
	// durations defined by trigger widths are not supported.
	ExposureTimeUs float32 `json:"exposure_time_us"`

	LineIntervalUs   float32   `json:"line_interval_us"`
	ReadoutDirection Direction `json:"readout_direction"`

	// Binning or downsample factor. Determines how many pixels in each
	// spatial dimension on the sensor are aggregated to form pixels in
	// an image.
	Binning uint8 `json:"binning"`

	// Type of each image pixel or sample.
	PixelType frame.SampleType `json:"pixel_type"`

	// Offset of the region of interest on the sensor from its top-left
	// corner, in aggregated pixels.
	Offset struct {
		X uint32 `json:"x"`
		Y uint32 `json:"y"`
	} `json:"offset"`

	// Shape of the region of interest on the sensor, in aggregated
	// pixels.
	Shape struct {
		X uint32 `json:"x"`
		Y uint32 `json:"y"`
	} `json:"shape"`

	// State of the camera's input triggers.
	InputTriggers struct {
		AcquisitionStart Trigger `json:"acquisition_start"`
		FrameStart       Trigger `json:"frame_start"`
		Exposure         Trigger `json:"exposure"`
	} `json:"input_triggers"`

	// State of the camera's digital output lines.
	OutputTriggers struct {
		Exposure    Trigger `json:"exposure"`
		FrameStart  Trigger `json:"frame_start"`
		TriggerWait Trigger `json:"trigger_wait"`
	} `json:"output_triggers"`
}

// Property describes the accepted range of one camera property.
type Property struct {
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Writable bool    `json:"writable"`
}

// CameraPropertyMetadata expresses the capabilities of a camera and the
// acceptable values of its properties.
type CameraPropertyMetadata struct {
	ExposureTimeUs   Property `json:"exposure_time_us"`
	LineIntervalUs   Property `json:"line_interval_us"`
	ReadoutDirection Property `json:"readout_direction"`
	Binning          Property `json:"binning"`

	Offset struct {
		X Property `json:"x"`
		Y Property `json:"y"`
	} `json:"offset"`

	Shape struct {
		X Property `json:"x"`
		Y Property `json:"y"`
	} `json:"shape"`

	// Bit i is set if SampleType(i) is supported.
	SupportedPixelTypes uint64 `json:"supported_pixel_types"`

	DigitalLines struct {
		LineCount uint8    `json:"line_count"`
		Names     []string `json:"names"`
	} `json:"digital_lines"`

	Triggers struct {
		AcquisitionStart TriggerCapabilities `json:"acquisition_start"`
		Exposure         TriggerCapabilities `json:"exposure"`
		FrameStart       TriggerCapabilities `json:"frame_start"`
	} `json:"triggers"`

	// Name of the device the metadata has been read from.
	Name string `json:"name"`
}

// TriggerCapabilities describes which digital lines an event can be
// bound to. Bit i is set if line i can be used.
type TriggerCapabilities struct {
	Input  uint8 `json:"input"`
	Output uint8 `json:"output"`
}

// SupportsPixelType reports whether the camera accepts the sample type.
func (m *CameraPropertyMetadata) SupportsPixelType(t frame.SampleType) bool {
	if t >= frame.SampleTypeCount {
		return false
	}

	return m.SupportedPixelTypes&(1<<uint(t)) != 0
}
