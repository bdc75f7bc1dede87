package scoring

import (
	"math"
	"strings"

	"github.com/zeusync/eqs/internal/core/eqs/eqserr"
	"github.com/zeusync/eqs/internal/core/eqs/eval"
	"github.com/zeusync/eqs/internal/core/eqs/grid"
	"github.com/zeusync/eqs/internal/core/eqs/oracle"
	"github.com/zeusync/eqs/internal/core/eqs/params"
	"github.com/zeusync/eqs/internal/core/eqs/world"
	"github.com/zeusync/eqs/internal/core/spatial"
)

var targetKeys = []string{"targetPoint", "target", "point", "position"}

func positive(p params.Params, key string, def float64) (float64, error) {
	v, err := p.Float(key, def)
	if err != nil {
		return 0, err
	}
	if !(v > 0) || math.IsInf(v, 0) {
		return 0, eqserr.Configf("%s must be a positive number, got %g", key, v)
	}
	return v, nil
}

func curveParam(p params.Params, def Curve) (Curve, error) {
	name, err := p.String("scoringCurve", "")
	if err != nil {
		return def, err
	}
	if name == "" {
		if name, err = p.String("curve", ""); err != nil {
			return def, err
		}
	}
	if name == "" {
		return def, nil
	}
	return ParseCurve(name)
}

func distanceModeParam(p params.Params) (spatial.DistanceMode, error) {
	name, err := p.String("distanceMode", "")
	if err != nil {
		return spatial.Euclidean, err
	}
	mode, err := spatial.ParseDistanceMode(name)
	if err != nil {
		return spatial.Euclidean, eqserr.Field("distanceMode", err)
	}
	return mode, nil
}

type distanceShape struct {
	target      spatial.Vec3
	mode        spatial.DistanceMode
	maxDistance float64
	curve       Curve
	exponent    float64
	threshold   float64
}

func newDistanceShape(sc *eval.Scope, p params.Params) (distanceShape, error) {
	var s distanceShape
	var err error
	if s.target, err = sc.RequirePoint(p, targetKeys...); err != nil {
		return s, err
	}
	if s.mode, err = distanceModeParam(p); err != nil {
		return s, err
	}
	if s.maxDistance, err = positive(p, "maxDistance", 100); err != nil {
		return s, err
	}
	if s.curve, err = curveParam(p, Linear); err != nil {
		return s, err
	}
	if s.exponent, err = positive(p, "exponent", 2); err != nil {
		return s, err
	}
	if s.threshold, err = p.Float("thresholdDistance", s.maxDistance/2); err != nil {
		return s, err
	}
	return s, nil
}

// NewProximityTo prefers cells close to the target, or close to
// optimalDistance from it when that is set.
func NewProximityTo(sc *eval.Scope, p params.Params) (Criterion, error) {
	s, err := newDistanceShape(sc, p)
	if err != nil {
		return nil, err
	}
	optimal, hasOptimal, err := p.OptFloat("optimalDistance")
	if err != nil {
		return nil, err
	}
	return ScoreFunc(func(cell *grid.Cell) (float64, error) {
		d := spatial.Distance(cell.WorldPosition, s.target, s.mode)
		if hasOptimal {
			d = math.Abs(d - optimal)
		}
		if s.curve == Threshold {
			if d <= s.threshold {
				return 1, nil
			}
			return 0, nil
		}
		return s.curve.fall(d/s.maxDistance, s.exponent), nil
	}), nil
}

// NewFarthestFrom prefers cells far from the target. Cells nearer than
// minDistance score 0.
func NewFarthestFrom(sc *eval.Scope, p params.Params) (Criterion, error) {
	s, err := newDistanceShape(sc, p)
	if err != nil {
		return nil, err
	}
	minDistance, err := p.Float("minDistance", 0)
	if err != nil {
		return nil, err
	}
	return ScoreFunc(func(cell *grid.Cell) (float64, error) {
		d := spatial.Distance(cell.WorldPosition, s.target, s.mode)
		if d < minDistance {
			return 0, nil
		}
		if s.curve == Threshold {
			if d >= s.threshold {
				return 1, nil
			}
			return 0, nil
		}
		return s.curve.rise(d/s.maxDistance, s.exponent), nil
	}), nil
}

// staticContribution is what a statically occupied neighbour adds to density.
const staticContribution = 0.1

type neighbour struct {
	offset spatial.IVec3
	weight float64
}

type density struct {
	grid       *grid.Grid
	env        *world.Environment
	neighbours []neighbour
	objectType string
	maxDensity float64
	inverse    bool
}

// NewDensityOfObjects counts dynamic occupants and static geometry around the
// cell within radius, searching ceil(radius/cellSize) cells per axis.
func NewDensityOfObjects(sc *eval.Scope, p params.Params) (Criterion, error) {
	radius, err := positive(p, "radius", 5)
	if err != nil {
		return nil, err
	}
	d := &density{grid: sc.Grid(), env: sc.Env}
	if d.maxDensity, err = positive(p, "maxDensity", 5); err != nil {
		return nil, err
	}
	if d.objectType, err = p.String("objectType", ""); err != nil {
		return nil, err
	}
	weighted, err := p.Bool("distanceWeighted", false)
	if err != nil {
		return nil, err
	}
	mode, err := p.String("densityMode", "raw")
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(mode) {
	case "raw", "":
	case "weighted":
		weighted = true
	case "inverse":
		d.inverse = true
	default:
		return nil, eqserr.Configf("densityMode: unknown value %q (want raw, weighted or inverse)", mode)
	}

	cellSize := d.grid.CellSize()
	steps := int(math.Ceil(radius / cellSize))
	for x := -steps; x <= steps; x++ {
		for y := -steps; y <= steps; y++ {
			for z := -steps; z <= steps; z++ {
				off := spatial.I(x, y, z)
				dist := off.Vec().Len() * cellSize
				if dist > radius {
					continue
				}
				w := 1.0
				if weighted {
					w = 1 / (1 + dist*dist)
				}
				d.neighbours = append(d.neighbours, neighbour{offset: off, weight: w})
			}
		}
	}
	return d, nil
}

func (d *density) Score(cell *grid.Cell) (float64, error) {
	sum := 0.0
	for _, nb := range d.neighbours {
		n, ok := d.grid.At(cell.Indices.Add(nb.offset))
		if !ok {
			continue
		}
		for _, id := range n.DynamicOccupants {
			if d.objectType != "" {
				rec, ok := d.env.DynamicObject(id)
				if !ok || !strings.EqualFold(rec.Type, d.objectType) {
					continue
				}
			}
			sum += nb.weight
		}
		if n.StaticOccupancy {
			sum += staticContribution * nb.weight
		}
	}
	s := clamp01(sum / d.maxDensity)
	if d.inverse {
		return 1 - s, nil
	}
	return s, nil
}

// NewHeightPreference compares the cell height with referenceHeight over a
// heightRange window.
func NewHeightPreference(_ *eval.Scope, p params.Params) (Criterion, error) {
	ref, err := p.Float("referenceHeight", 0)
	if err != nil {
		return nil, err
	}
	span, err := positive(p, "heightRange", 10)
	if err != nil {
		return nil, err
	}
	mode, err := p.String("preferenceMode", "")
	if err != nil {
		return nil, err
	}
	if mode == "" {
		if mode, err = p.String("mode", "higher"); err != nil {
			return nil, err
		}
	}
	var score func(h float64) float64
	switch strings.ToLower(mode) {
	case "higher":
		score = func(h float64) float64 { return clamp01((h - ref) / span) }
	case "lower":
		score = func(h float64) float64 { return 1 - clamp01((h-ref)/span) }
	case "specific":
		score = func(h float64) float64 { return 1 - clamp01(math.Abs(h-ref)/span) }
	case "avoid":
		score = func(h float64) float64 { return clamp01(math.Abs(h-ref) / span) }
	default:
		return nil, eqserr.Configf("mode: unknown value %q (want higher, lower, specific or avoid)", mode)
	}
	return ScoreFunc(func(cell *grid.Cell) (float64, error) {
		return score(cell.WorldPosition.Y), nil
	}), nil
}

type slope struct {
	oracle    oracle.Oracle
	mask      oracle.LayerMask
	cellSize  float64
	probe     float64
	tolerance float64
	preferred float64
	mode      string
}

// NewSlopeAnalysis estimates the ground slope under the cell from downward
// probes at the centre and the four axis neighbours.
func NewSlopeAnalysis(sc *eval.Scope, p params.Params) (Criterion, error) {
	s := &slope{oracle: sc.Oracle(), cellSize: sc.Grid().CellSize()}
	var err error
	if s.tolerance, err = positive(p, "tolerance", 45); err != nil {
		return nil, err
	}
	if s.preferred, err = p.Float("preferredSlope", 0); err != nil {
		return nil, err
	}
	if s.probe, err = positive(p, "probeHeight", 10); err != nil {
		return nil, err
	}
	if s.mask, err = eval.LayerMask(p); err != nil {
		return nil, err
	}
	if s.mode, err = p.String("slopeMode", ""); err != nil {
		return nil, err
	}
	if s.mode == "" {
		if s.mode, err = p.String("mode", "flat"); err != nil {
			return nil, err
		}
	}
	s.mode = strings.ToLower(s.mode)
	switch s.mode {
	case "flat", "steep", "specific":
	default:
		return nil, eqserr.Configf("mode: unknown value %q (want flat, steep or specific)", s.mode)
	}
	return s, nil
}

func (s *slope) groundHeight(at spatial.Vec3) (float64, bool, error) {
	origin := at.Add(spatial.V(0, s.probe, 0))
	hit, ok, err := s.oracle.Raycast(origin, spatial.Down, 2*s.probe, s.mask)
	if err != nil {
		return 0, false, oracle.Unavailable("slope probe", err)
	}
	return hit.Point.Y, ok, nil
}

// Angle returns the estimated slope in degrees; 0 when the ground is not found.
func (s *slope) Angle(cell *grid.Cell) (float64, error) {
	centre, ok, err := s.groundHeight(cell.WorldPosition)
	if err != nil || !ok {
		return 0, err
	}
	sides := [4]spatial.Vec3{
		spatial.V(s.cellSize, 0, 0), spatial.V(-s.cellSize, 0, 0),
		spatial.V(0, 0, s.cellSize), spatial.V(0, 0, -s.cellSize),
	}
	total, n := 0.0, 0
	for _, off := range sides {
		h, ok, err := s.groundHeight(cell.WorldPosition.Add(off))
		if err != nil {
			return 0, err
		}
		if ok {
			total += math.Abs(h - centre)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return math.Atan(total/float64(n)/s.cellSize) * 180 / math.Pi, nil
}

func (s *slope) Score(cell *grid.Cell) (float64, error) {
	angle, err := s.Angle(cell)
	if err != nil {
		return 0, err
	}
	switch s.mode {
	case "steep":
		return clamp01(angle / s.tolerance), nil
	case "specific":
		return 1 - clamp01(math.Abs(angle-s.preferred)/s.tolerance), nil
	default:
		return 1 - clamp01(angle/s.tolerance), nil
	}
}

type cover struct {
	oracle     oracle.Oracle
	mask       oracle.LayerMask
	radius     float64
	eyeHeight  float64
	directions []spatial.Vec3
	threats    []spatial.Vec3
	mode       string
}

// NewCoverQuality casts rays from eye height towards threats, or along a
// horizontal fan, and scores how many are blocked within coverRadius.
func NewCoverQuality(sc *eval.Scope, p params.Params) (Criterion, error) {
	c := &cover{oracle: sc.Oracle()}
	var err error
	if c.radius, err = positive(p, "coverRadius", 5); err != nil {
		return nil, err
	}
	if c.eyeHeight, err = p.Float("eyeHeight", 1.0); err != nil {
		return nil, err
	}
	if c.mask, err = eval.LayerMask(p); err != nil {
		return nil, err
	}
	dirs, err := p.PointList("threatDirections")
	if err != nil {
		return nil, err
	}
	for i, d := range dirs {
		if d.IsRef() || d.Vec.LenSq() == 0 {
			return nil, eqserr.Configf("threatDirections[%d] must be a non-zero vector", i)
		}
		c.directions = append(c.directions, d.Vec.Normalize())
	}
	if len(c.directions) == 0 {
		if c.threats, err = sc.Points(p, "threatPoints"); err != nil {
			return nil, err
		}
	}
	if len(c.directions) == 0 && len(c.threats) == 0 {
		c.directions = spatial.HorizontalFan()
	}
	if c.mode, err = p.String("coverMode", ""); err != nil {
		return nil, err
	}
	if c.mode == "" {
		if c.mode, err = p.String("mode", "omnidirectional"); err != nil {
			return nil, err
		}
	}
	c.mode = strings.ToLower(c.mode)
	switch c.mode {
	case "omnidirectional", "partial", "majority":
	default:
		return nil, eqserr.Configf("mode: unknown value %q (want omnidirectional, partial or majority)", c.mode)
	}
	return c, nil
}

func (c *cover) Score(cell *grid.Cell) (float64, error) {
	eye := cell.WorldPosition.Add(spatial.V(0, c.eyeHeight, 0))
	dirs := c.directions
	if len(c.threats) > 0 {
		dirs = make([]spatial.Vec3, 0, len(c.threats))
		for _, t := range c.threats {
			if d := t.Sub(eye).Normalize(); d != spatial.Zero {
				dirs = append(dirs, d)
			}
		}
	}
	if len(dirs) == 0 {
		return 0, nil
	}
	blocked := 0
	for _, d := range dirs {
		_, hit, err := c.oracle.Raycast(eye, d, c.radius, c.mask)
		if err != nil {
			return 0, oracle.Unavailable("cover ray", err)
		}
		if hit {
			blocked++
		}
	}
	switch c.mode {
	case "partial":
		if blocked > 0 {
			return 1, nil
		}
		return 0, nil
	case "majority":
		if 2*blocked >= len(dirs) {
			return 1, nil
		}
		return 0, nil
	default:
		return float64(blocked) / float64(len(dirs)), nil
	}
}

type pathComplexity struct {
	oracle        oracle.Oracle
	mask          oracle.LayerMask
	start         spatial.Vec3
	linecast      bool
	sampleRadius  float64
	stepSize      float64
	maxComplexity float64
}

// NewPathComplexity rates the straight line from startPoint to the cell:
// "simple" counts obstructed samples along it, "linecast" is all or nothing.
func NewPathComplexity(sc *eval.Scope, p params.Params) (Criterion, error) {
	c := &pathComplexity{oracle: sc.Oracle()}
	var err error
	if c.start, err = sc.RequirePoint(p, "startPoint", "start", "targetPoint"); err != nil {
		return nil, err
	}
	mode, err := p.String("complexityMode", "")
	if err != nil {
		return nil, err
	}
	if mode == "" {
		if mode, err = p.String("mode", "simple"); err != nil {
			return nil, err
		}
	}
	switch strings.ToLower(mode) {
	case "simple":
	case "linecast":
		c.linecast = true
	default:
		return nil, eqserr.Configf("mode: unknown value %q (want simple or linecast)", mode)
	}
	if c.sampleRadius, err = positive(p, "sampleRadius", 0.25); err != nil {
		return nil, err
	}
	if c.stepSize, err = positive(p, "stepSize", 1); err != nil {
		return nil, err
	}
	if c.maxComplexity, err = positive(p, "maxComplexity", 10); err != nil {
		return nil, err
	}
	if c.mask, err = eval.LayerMask(p); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *pathComplexity) Score(cell *grid.Cell) (float64, error) {
	end := cell.WorldPosition
	if c.linecast {
		blocked, err := oracle.Linecast(c.oracle, c.start, end, c.mask)
		if err != nil {
			return 0, oracle.Unavailable("path linecast", err)
		}
		if blocked {
			return 0, nil
		}
		return 1, nil
	}
	seg := end.Sub(c.start)
	length := seg.Len()
	dir := seg.Normalize()
	count := 0
	for t := 0.0; t <= length; t += c.stepSize {
		hit, err := c.oracle.CheckSphere(c.start.Add(dir.Scale(t)), c.sampleRadius, c.mask)
		if err != nil {
			return 0, oracle.Unavailable("path sample", err)
		}
		if hit {
			count++
		}
	}
	return 1 - clamp01(float64(count)/c.maxComplexity), nil
}

type multiPoint struct {
	points      []spatial.Vec3
	weights     []float64
	maxDistance float64
	mode        string
}

// NewMultiPoint combines closeness to several points. Each point scores
// 1 - d/maxDistance before combination.
func NewMultiPoint(sc *eval.Scope, p params.Params) (Criterion, error) {
	m := &multiPoint{}
	var err error
	if m.points, err = sc.Points(p, "targetPoints"); err != nil {
		return nil, err
	}
	if m.maxDistance, err = positive(p, "maxDistance", 100); err != nil {
		return nil, err
	}
	if m.weights, err = p.FloatList("weights"); err != nil {
		return nil, err
	}
	if m.mode, err = p.String("combinationMode", ""); err != nil {
		return nil, err
	}
	if m.mode == "" {
		if m.mode, err = p.String("mode", "average"); err != nil {
			return nil, err
		}
	}
	m.mode = strings.ToLower(m.mode)
	switch m.mode {
	case "average", "closest", "best", "farthest", "weighted":
	default:
		return nil, eqserr.Configf("mode: unknown value %q", m.mode)
	}
	return m, nil
}

func (m *multiPoint) Score(cell *grid.Cell) (float64, error) {
	if len(m.points) == 0 {
		return 0, nil
	}
	scores := make([]float64, len(m.points))
	for i, pt := range m.points {
		scores[i] = 1 - clamp01(spatial.Dist(cell.WorldPosition, pt)/m.maxDistance)
	}
	switch m.mode {
	case "closest", "best":
		return maxOf(scores), nil
	case "farthest":
		return minOf(scores), nil
	case "weighted":
		if len(m.weights) == len(scores) && sum(m.weights) != 0 {
			return Combine(scores, m.weights), nil
		}
	}
	return Combine(scores, nil), nil
}

func sum(xs []float64) float64 {
	t := 0.0
	for _, x := range xs {
		t += x
	}
	return t
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		m = max(m, x)
	}
	return m
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		m = min(m, x)
	}
	return m
}
