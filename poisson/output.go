/*
This file writes and reads the solution artifacts. Each drone writes
only its own share to its own file, so no solution data ever travels
over the fabric after the solve; the files concatenated in rank order
cover the whole domain once.
*/
package poisson

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ArtifactName returns the output file name for a rank.
func ArtifactName(rank int) string {
	return fmt.Sprintf("jacobi_%d.txt", rank)
}

// WriteLine writes a drone's share of the line solution into dir, one
// "x u" pair per row in ascending x. The edge drones also write their
// physical boundary point, so ranks 0..P-1 concatenated span [A,B].
func WriteLine(dir string, prob Problem1D, res *Result1D) error {
	fp, err := os.Create(filepath.Join(dir, ArtifactName(res.Part.Rank)))
	if err != nil {
		return err
	}
	defer fp.Close()
	w := bufio.NewWriter(fp)
	if res.Part.OwnsLow() {
		fmt.Fprintf(w, "%f %f\n", prob.A, prob.Alpha)
	}
	for i, x := range res.X {
		fmt.Fprintf(w, "%f %f\n", x, res.U[i])
	}
	if res.Part.OwnsHigh() {
		fmt.Fprintf(w, "%f %f\n", prob.B, prob.Beta)
	}
	return w.Flush()
}

// AssembleLine reads the per-rank line artifacts from dir back into a
// single ascending sequence.
func AssembleLine(dir string, nrProc int) ([]float64, []float64, error) {
	var xs, us []float64
	for r := 0; r < nrProc; r++ {
		fp, err := os.Open(filepath.Join(dir, ArtifactName(r)))
		if err != nil {
			return nil, nil, err
		}
		sc := bufio.NewScanner(fp)
		for sc.Scan() {
			var x, u float64
			if _, err := fmt.Sscanf(sc.Text(), "%f %f", &x, &u); err != nil {
				fp.Close()
				return nil, nil, fmt.Errorf("Poisson: bad artifact row %q: %v", sc.Text(), err)
			}
			xs = append(xs, x)
			us = append(us, u)
		}
		err = sc.Err()
		fp.Close()
		if err != nil {
			return nil, nil, err
		}
	}
	return xs, us, nil
}

// WritePlane writes a drone's band of the plane solution into dir,
// bottom row first. Each row carries its y coordinate followed by the
// values across the full x extent. The edge drones include their
// boundary rows, evaluated from the problem's edge profiles.
func WritePlane(dir string, prob Problem2D, n int, res *Result2D) error {
	fp, err := os.Create(filepath.Join(dir, ArtifactName(res.Part.Rank)))
	if err != nil {
		return err
	}
	defer fp.Close()
	w := bufio.NewWriter(fp)
	dx := math.Pi / float64(n+1)
	writeRow := func(y float64, vals []float64) {
		fmt.Fprintf(w, "%f", y)
		for _, v := range vals {
			fmt.Fprintf(w, " %f", v)
		}
		fmt.Fprintln(w)
	}
	if res.Part.OwnsLow() {
		row := make([]float64, n+2)
		for i := range row {
			row[i] = prob.Bottom(float64(i) * dx)
		}
		writeRow(0, row)
	}
	for k, y := range res.Y {
		writeRow(y, res.Rows[k])
	}
	if res.Part.OwnsHigh() {
		row := make([]float64, n+2)
		for i := range row {
			row[i] = prob.Top(float64(i) * dx)
		}
		writeRow(math.Pi, row)
	}
	return w.Flush()
}

// AssemblePlane reads the per-rank plane artifacts from dir back into
// rows ordered bottom to top with their y coordinates.
func AssemblePlane(dir string, nrProc int) ([]float64, [][]float64, error) {
	var ys []float64
	var rows [][]float64
	for r := 0; r < nrProc; r++ {
		fp, err := os.Open(filepath.Join(dir, ArtifactName(r)))
		if err != nil {
			return nil, nil, err
		}
		sc := bufio.NewScanner(fp)
		sc.Buffer(make([]byte, 1<<16), 1<<20)
		for sc.Scan() {
			fields := strings.Fields(sc.Text())
			if len(fields) < 2 {
				fp.Close()
				return nil, nil, fmt.Errorf("Poisson: bad artifact row %q", sc.Text())
			}
			vals := make([]float64, 0, len(fields))
			for _, fld := range fields {
				v, err := strconv.ParseFloat(fld, 64)
				if err != nil {
					fp.Close()
					return nil, nil, fmt.Errorf("Poisson: bad artifact value %q: %v", fld, err)
				}
				vals = append(vals, v)
			}
			ys = append(ys, vals[0])
			rows = append(rows, vals[1:])
		}
		err = sc.Err()
		fp.Close()
		if err != nil {
			return nil, nil, err
		}
	}
	return ys, rows, nil
}
