package mesh

// Cube corner c sits at offset (c&1, c>>1&1, c>>2&1) from the cell origin.
// The triangle table is derived from the six faces instead of being written
// out: on every face each run of inside corners contributes one directed
// segment, the segments of a cell chain into closed loops, and each loop is
// fanned into triangles. Two cells sharing a face see the same corner values
// and pair the same edges on it, which keeps the surface closed across
// ambiguous faces.

// cubeEdges lists each edge as (lower corner, axis)
var cubeEdges [12]struct {
	corner int
	axis   int
}

// edgeIndex maps a pair of adjacent corners to its edge number
var edgeIndex [8][8]int

// cubeFaces lists each face's corners counter-clockwise seen from outside the cell
var cubeFaces = [6][4]int{
	{0, 4, 6, 2}, // x = 0
	{1, 3, 7, 5}, // x = 1
	{0, 1, 5, 4}, // y = 0
	{2, 6, 7, 3}, // y = 1
	{0, 2, 3, 1}, // z = 0
	{4, 5, 7, 6}, // z = 1
}

// triTable holds, for every inside-corner mask, the triangles as edge triples
var triTable [256][][3]int8

func init() {
	for i := range edgeIndex {
		for j := range edgeIndex[i] {
			edgeIndex[i][j] = -1
		}
	}
	n := 0
	for axis := 0; axis < 3; axis++ {
		for c := 0; c < 8; c++ {
			if c&(1<<axis) != 0 {
				continue
			}
			d := c | 1<<axis
			cubeEdges[n].corner = c
			cubeEdges[n].axis = axis
			edgeIndex[c][d] = n
			edgeIndex[d][c] = n
			n++
		}
	}

	for mask := 0; mask < 256; mask++ {
		triTable[mask] = buildCase(mask)
	}
}

func buildCase(mask int) [][3]int8 {
	inside := func(c int) bool { return mask&(1<<c) != 0 }

	// next[e] is the edge that follows e on the surface loop
	var next [12]int
	for i := range next {
		next[i] = -1
	}

	for _, face := range cubeFaces {
		for a := 0; a < 4; a++ {
			prev := (a + 3) % 4
			if !inside(face[a]) || inside(face[prev]) {
				continue
			}
			b := a
			for inside(face[(b+1)%4]) {
				b = (b + 1) % 4
			}
			from := edgeIndex[face[b]][face[(b+1)%4]]
			to := edgeIndex[face[prev]][face[a]]
			next[from] = to
		}
	}

	var tris [][3]int8
	var used [12]bool
	for start := 0; start < 12; start++ {
		if next[start] < 0 || used[start] {
			continue
		}
		var loop []int
		for e := start; !used[e]; e = next[e] {
			used[e] = true
			loop = append(loop, e)
		}
		for i := 1; i+1 < len(loop); i++ {
			tris = append(tris, [3]int8{int8(loop[0]), int8(loop[i+1]), int8(loop[i])})
		}
	}
	return tris
}
