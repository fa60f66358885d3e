package stardetect

import "image"

// region is one grown structure: its bounding rectangle and the pixels
// claimed while growing it.
type region struct {
	rect   image.Rectangle
	points []image.Point
}

// touchesBorder reports whether the region reaches the outermost row or
// column of a width x height image.
func (r region) touchesBorder(width, height int) bool {
	return r.rect.Min.X <= 0 || r.rect.Min.Y <= 0 || r.rect.Max.X >= width || r.rect.Max.Y >= height
}

// extractRegions raster scans the structure map and grows one region per
// unclaimed active seed. The map itself is not modified; claimed pixels are
// tracked in a private bitmap. The last row and column are never seeds.
func extractRegions(structure Mat, status *statusMonitor, visit func(region)) error {
	width, height := structure.Cols(), structure.Rows()
	data := structure.DataFloat32()
	claimed := make([]bool, width*height)
	active := func(x, y int) bool {
		i := y*width + x
		return data[i] != 0 && !claimed[i]
	}

	for y0 := 0; y0 < height-1; y0++ {
		for x0 := 0; x0 < width-1; x0++ {
			if !active(x0, y0) {
				continue
			}
			r := region{rect: image.Rect(x0, y0, x0+1, y0+1)}
			x, y := x0, y0
			for {
				left := x
				for left > 0 && active(left-1, y) {
					left--
				}
				right := x
				for right < width-1 && active(right+1, y) {
					right++
				}
				for i := left; i <= right; i++ {
					claimed[y*width+i] = true
					r.points = append(r.points, image.Pt(i, y))
				}
				if left < r.rect.Min.X {
					r.rect.Min.X = left
				}
				if right+1 > r.rect.Max.X {
					r.rect.Max.X = right + 1
				}
				r.rect.Max.Y = y + 1
				if y == height-1 {
					break
				}

				// Continue on the next row from the first active pixel
				// under the current span.
				next := -1
				for i := left; i <= right; i++ {
					if active(i, y+1) {
						next = i
						break
					}
				}
				if next < 0 {
					break
				}
				x = next
				y++
			}
			visit(r)
		}
		if err := status.Add(int64(width)); err != nil {
			return err
		}
	}
	return nil
}
