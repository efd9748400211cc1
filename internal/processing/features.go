package processing

import (
	"errors"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// FeaturesPerChannel is the number of statistics computed for each channel:
// mean, std, kurtosis, skewness, |DC|, spectrum mean, spectrum std, max, min.
const FeaturesPerChannel = 9

var ErrEmptyWindow = errors.New("processing: window has no samples")

// FeatureVector is the summary of one window. Features holds the
// per-channel statistics channel by channel followed by the whole-window RMS.
type FeatureVector struct {
	LabelID  int
	Features []float64
}

// Row returns the label id followed by the features, the layout of one line
// of a feature table.
func (f FeatureVector) Row() []float64 {
	row := make([]float64, 0, len(f.Features)+1)
	row = append(row, float64(f.LabelID))
	return append(row, f.Features...)
}

// FeatureCount returns the length of FeatureVector.Features for a window
// with the given number of channels.
func FeatureCount(channels int) int {
	return channels*FeaturesPerChannel + 1
}

// ExtractFeatures reduces a window to its feature vector. Moments use the
// population (biased) estimators; skewness and kurtosis are NaN for a channel
// with no variance. The RMS term is the square root of the sum of squares over
// all channels.
func ExtractFeatures(labelID int, w ResampledWindow) (FeatureVector, error) {
	rows, cols := w.Rows(), w.Cols()
	if rows == 0 || cols == 0 {
		return FeatureVector{}, ErrEmptyWindow
	}

	fft := fourier.NewFFT(rows)
	features := make([]float64, 0, FeatureCount(cols))

	var sumSquares float64
	for c := 0; c < cols; c++ {
		sig := w.Column(c)
		features = appendChannelFeatures(features, sig, fft)
		sumSquares += floats.Dot(sig, sig)
	}
	features = append(features, math.Sqrt(sumSquares))

	return FeatureVector{LabelID: labelID, Features: features}, nil
}

func appendChannelFeatures(dst, sig []float64, fft *fourier.FFT) []float64 {
	mean, std := stat.PopMeanStdDev(sig, nil)
	skew, kurt := shapeMoments(sig, mean)

	spectrum := magnitudeSpectrum(sig, fft)
	specMean, specStd := stat.PopMeanStdDev(spectrum, nil)

	return append(dst,
		mean,
		std,
		kurt,
		skew,
		spectrum[0],
		specMean,
		specStd,
		floats.Max(sig),
		floats.Min(sig),
	)
}

// shapeMoments returns the biased skewness and Fisher kurtosis of sig.
func shapeMoments(sig []float64, mean float64) (skew, kurt float64) {
	m2 := stat.MomentAbout(2, sig, mean, nil)
	// treat variance below float64 resolution of the mean as zero
	if m2 <= (1e-15*mean)*(1e-15*mean) {
		return math.NaN(), math.NaN()
	}
	m3 := stat.MomentAbout(3, sig, mean, nil)
	m4 := stat.MomentAbout(4, sig, mean, nil)

	return m3 / math.Pow(m2, 1.5), m4/(m2*m2) - 3
}

// magnitudeSpectrum returns |X[k]| for every bin of the full length-n DFT of
// a real signal.
func magnitudeSpectrum(sig []float64, fft *fourier.FFT) []float64 {
	n := len(sig)
	coeff := fft.Coefficients(nil, sig)

	mags := make([]float64, n)
	for k := range mags {
		j := k
		if j > n/2 {
			j = n - k
		}
		mags[k] = cmplx.Abs(coeff[j])
	}
	return mags
}
