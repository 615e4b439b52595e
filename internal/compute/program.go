package compute

// Kernel names, used as operation labels in plans, errors and timings.
const (
	KernelComputeHistogram  = "cal_histogram"
	KernelFinalizeHistogram = "fin_histogram"
	KernelBuildLUT          = "cal_lut"
	KernelDeflicker         = "deflicker"
	KernelJoinHistogram     = "join_histogram"
	KernelBacksub           = "backsub"
)

// Program is the fixed kernel contract a backend compiles once per session.
// Each kernel writes only the buffers documented as its output.
type Program interface {
	// ComputeHistogram adds the quantized sample counts of img into hist.
	// hist is not cleared first.
	ComputeHistogram(hist Histogram, img Image) error

	// FinalizeHistogram turns raw counts into a running total per channel, in place.
	FinalizeHistogram(hist Histogram) error

	// BuildLUT derives the histogram-matching table that maps the current
	// distribution onto the reference one. Both inputs are CDFs.
	BuildLUT(referenceCDF, currentCDF Histogram, lut LUT) error

	// Deflicker replaces every sample of img with lut[channel][quantize(sample)].
	Deflicker(lut LUT, img Image) error

	// JoinHistogram folds current into reference:
	// reference[b] = round((reference[b]*joinWeight + current[b]) / (joinWeight+1)).
	JoinHistogram(reference, current Histogram, joinWeight int32) error

	// Backsub moves background toward img where they differ by more than
	// threshold, at a rate of 1/(weight+1) per call.
	Backsub(background, img Image, weight, threshold float32) error

	// Release frees backend resources. Calling it twice is harmless.
	Release() error
}

// Device is one execution unit of a platform.
type Device interface {
	Name() string
	// Build compiles the kernel program for this device.
	Build() (Program, error)
}

// Platform groups the devices of one backend.
type Platform interface {
	Name() string
	Devices() []Device
}
