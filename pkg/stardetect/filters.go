package stardetect

// hotPixelThreshold is the minimum change for a pixel to count as a
// corrected hot pixel in the metrics.
const hotPixelThreshold = 0.001

// applyHotPixelFilter median filters img in place and returns the number of
// pixels that moved by more than hotPixelThreshold. A zero radius leaves the
// image untouched but still reports one unit of progress per pixel.
func applyHotPixelFilter(img *Mat, radius int, status *statusMonitor) (int64, error) {
	if radius <= 0 {
		return 0, status.Add(int64(img.Rows() * img.Cols()))
	}

	blurred := NewMat()
	defer blurred.Close()
	if radius == 1 {
		medianBlur(*img, &blurred, 3)
	} else {
		medianFilter(*img, &blurred, circularStructure(2*radius+1))
	}
	count := hotpixelCount(*img, blurred)
	CopyMatTo(blurred, img)
	return count, status.Err()
}

func hotpixelCount(original, filtered Mat) int64 {
	diff := NewMat()
	defer diff.Close()
	mask := NewMat()
	defer mask.Close()

	absDiff(original, filtered, &diff)
	thresholdBinary(diff, &mask, hotPixelThreshold, 1.0)
	return int64(countNonZero(mask))
}

// applyNoiseReduction convolves img in place with a Gaussian of size
// 2*radius+1. threads drives the separable/2-D choice.
func applyNoiseReduction(img *Mat, radius, threads int) {
	if radius <= 0 {
		return
	}
	convolveGaussianAuto(img, img, 2*radius+1, threads)
}
