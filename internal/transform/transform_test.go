package transform

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/panotour/internal/testutil"
)

const tol = 1e-9

func baseAboutY(deg float64) *BaseTransform {
	return &BaseTransform{Rotation: axisAngle(r3.Vec{Y: 1}, degToRad(deg))}
}

func TestCompose_Identity(t *testing.T) {
	m, err := Compose(DefaultParams())
	testutil.AssertNoError(t, err)
	if !m.IsIdentity() {
		t.Errorf("Compose(default) = %v, want identity", m)
	}
}

// The base calibration is applied to a local vector first, then the user
// delta in world axes. With base = 90° about Y and delta = 90° about X the
// local +Z axis lands on +X; the reverse order would give -Y.
func TestCompose_DeltaPremultipliesBase(t *testing.T) {
	p := Params{
		Base:        baseAboutY(90),
		RotationDeg: Euler{X: 90},
		Scale:       1,
	}
	m, err := Compose(p)
	testutil.AssertNoError(t, err)

	got := m.ApplyPoint(r3.Vec{Z: 1})
	testutil.AssertVecNear(t, got, r3.Vec{X: 1}, 1e-9)

	reversed := Rotate(quat.Mul(p.Base.Rotation, p.Delta()), r3.Vec{Z: 1})
	testutil.AssertVecNear(t, reversed, r3.Vec{Y: -1}, 1e-9)
}

func TestCompose_TranslationIsPlainSum(t *testing.T) {
	base := baseAboutY(45)
	base.Translation = r3.Vec{X: 1, Y: 2, Z: 3}
	p := Params{
		Base:        base,
		RotationDeg: Euler{X: 30, Y: 60, Z: -15},
		Translation: r3.Vec{X: 0.5, Y: -1, Z: 4},
		Scale:       2,
	}
	m, err := Compose(p)
	testutil.AssertNoError(t, err)
	testutil.AssertVecNear(t, m.Translation(), r3.Vec{X: 1.5, Y: 1, Z: 7}, tol)
	testutil.AssertVecNear(t, m.ApplyPoint(r3.Vec{}), r3.Vec{X: 1.5, Y: 1, Z: 7}, tol)
}

func TestCompose_UniformScale(t *testing.T) {
	m, err := Compose(Params{RotationDeg: Euler{Y: 33}, Scale: 2.5})
	testutil.AssertNoError(t, err)
	s := m.Scale()
	testutil.AssertVecNear(t, s, r3.Vec{X: 2.5, Y: 2.5, Z: 2.5}, 1e-9)
	testutil.AssertNear(t, "UniformScale", m.UniformScale(), 2.5, 1e-9)
}

func TestCompose_RejectsNonFinite(t *testing.T) {
	tests := []struct {
		name string
		p    Params
	}{
		{"nan scale", Params{Scale: math.NaN()}},
		{"inf rotation", Params{RotationDeg: Euler{Z: math.Inf(1)}, Scale: 1}},
		{"nan translation", Params{Translation: r3.Vec{Y: math.NaN()}, Scale: 1}},
		{"nan base", Params{Base: &BaseTransform{Rotation: quat.Number{Real: math.NaN()}}, Scale: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Compose(tt.p); !errors.Is(err, ErrNonFinite) {
				t.Errorf("Compose() error = %v, want ErrNonFinite", err)
			}
		})
	}
}

func TestQuatWXYZ_RoundTrip(t *testing.T) {
	persisted := [4]float64{0.7071067811865476, 0, 0.7071067811865476, 0}
	q := QuatFromWXYZ(persisted)
	if q.Real != persisted[0] || q.Jmag != persisted[2] {
		t.Fatalf("QuatFromWXYZ = %+v, w must map to Real", q)
	}
	if got := WXYZ(q); got != persisted {
		t.Errorf("WXYZ(QuatFromWXYZ(a)) = %v, want %v", got, persisted)
	}

	// The same quaternion as a 90° rotation about Y.
	testutil.AssertVecNear(t, Rotate(q, r3.Vec{Z: 1}), r3.Vec{X: 1}, 1e-9)

	if got := QuatFromXYZW(XYZW(q)); got != q {
		t.Errorf("XYZW round trip = %+v, want %+v", got, q)
	}
}

func TestEulerXYZ_MatchesAxisProduct(t *testing.T) {
	q := EulerXYZ(0, 0, math.Pi/2)
	testutil.AssertVecNear(t, Rotate(q, r3.Vec{X: 1}), r3.Vec{Y: 1}, 1e-9)

	// Intrinsic XYZ: R = Rx · Ry · Rz.
	x, y, z := 0.3, -0.4, 1.1
	q = EulerXYZ(x, y, z)
	v := r3.Vec{X: 0.2, Y: -0.7, Z: 1.3}
	want := Rotate(axisAngle(r3.Vec{X: 1}, x),
		Rotate(axisAngle(r3.Vec{Y: 1}, y),
			Rotate(axisAngle(r3.Vec{Z: 1}, z), v)))
	testutil.AssertVecNear(t, Rotate(q, v), want, 1e-9)
}

func TestEulerXYZFromQuat_RoundTrip(t *testing.T) {
	tests := []struct{ x, y, z float64 }{
		{0, 0, 0},
		{0.3, -0.4, 1.1},
		{-1.2, 0.9, -2.5},
		{math.Pi / 2, 0, 0},
	}
	for _, tt := range tests {
		gx, gy, gz := EulerXYZFromQuat(EulerXYZ(tt.x, tt.y, tt.z))
		testutil.AssertNear(t, "x", gx, tt.x, 1e-9)
		testutil.AssertNear(t, "y", gy, tt.y, 1e-9)
		testutil.AssertNear(t, "z", gz, tt.z, 1e-9)
	}
}

func TestQuatFromRotationMatrix(t *testing.T) {
	for _, q := range []quat.Number{
		EulerXYZ(0.1, 0.2, 0.3),
		EulerXYZ(math.Pi, 0, 0),
		EulerXYZ(0, math.Pi, 0),
		EulerXYZ(0, 0, math.Pi),
		EulerXYZ(2.5, -1.1, 0.4),
	} {
		got := QuatFromRotationMatrix(RotationMatrix(q))
		v := r3.Vec{X: 1, Y: 2, Z: 3}
		testutil.AssertVecNear(t, Rotate(got, v), Rotate(q, v), 1e-9)
	}
}

func TestMul_AppliesRightOperandFirst(t *testing.T) {
	tr := ComposeTRS(r3.Vec{X: 1}, quat.Number{Real: 1}, r3.Vec{X: 1, Y: 1, Z: 1})
	sc := ComposeTRS(r3.Vec{}, quat.Number{Real: 1}, r3.Vec{X: 2, Y: 2, Z: 2})
	testutil.AssertVecNear(t, Mul(tr, sc).ApplyPoint(r3.Vec{X: 1}), r3.Vec{X: 3}, tol)
	testutil.AssertVecNear(t, Mul(sc, tr).ApplyPoint(r3.Vec{X: 1}), r3.Vec{X: 4}, tol)
}

func TestFromRowMajor(t *testing.T) {
	rm := [16]float64{
		1, 0, 0, 5,
		0, 1, 0, 6,
		0, 0, 1, 7,
		0, 0, 0, 1,
	}
	m := FromRowMajor(rm)
	testutil.AssertVecNear(t, m.Translation(), r3.Vec{X: 5, Y: 6, Z: 7}, 0)
	if m.RowMajor() != rm {
		t.Errorf("RowMajor() = %v, want %v", m.RowMajor(), rm)
	}
	if m.At(0, 3) != 5 {
		t.Errorf("At(0,3) = %v, want 5", m.At(0, 3))
	}
}

func TestMapper_RoundTrip(t *testing.T) {
	m, err := Compose(Params{
		Base:        baseAboutY(20),
		RotationDeg: Euler{X: 10, Y: -35, Z: 80},
		Translation: r3.Vec{X: 1, Y: -2, Z: 0.5},
		Scale:       1.7,
	})
	testutil.AssertNoError(t, err)

	mp, err := NewMapper(m)
	testutil.AssertNoError(t, err)

	for _, local := range []r3.Vec{{}, {X: 1}, {X: -3, Y: 2.2, Z: 9}} {
		world := ToWorld(local, m)
		back, err := ToLocal(world, m)
		testutil.AssertNoError(t, err)
		testutil.AssertVecNear(t, back, local, 1e-9)
		testutil.AssertVecNear(t, mp.ToLocal(mp.ToWorld(local)), local, 1e-9)
	}
	fwd := mp.Matrix()
	testutil.AssertSliceNear(t, fwd[:], m[:], 0)
}

func TestInverse_Idempotent(t *testing.T) {
	m, err := Compose(Params{RotationDeg: Euler{X: 12, Y: 34, Z: 56}, Translation: r3.Vec{Z: 3}, Scale: 0.8})
	testutil.AssertNoError(t, err)
	inv, err := m.Inverse()
	testutil.AssertNoError(t, err)
	back, err := inv.Inverse()
	testutil.AssertNoError(t, err)
	testutil.AssertSliceNear(t, back[:], m[:], 1e-9)
	if !Mul(m, inv).ApproxEqual(Identity(), 1e-9) {
		t.Errorf("m × m⁻¹ = %v, want identity", Mul(m, inv))
	}
}

func TestToLocal_SingularScale(t *testing.T) {
	m, err := Compose(Params{Scale: 0})
	testutil.AssertNoError(t, err)
	if _, err := ToLocal(r3.Vec{X: 1}, m); !errors.Is(err, ErrSingular) {
		t.Errorf("ToLocal() error = %v, want ErrSingular", err)
	}
	if _, err := NewMapper(m); !errors.Is(err, ErrSingular) {
		t.Errorf("NewMapper() error = %v, want ErrSingular", err)
	}
}

func TestValidate(t *testing.T) {
	if err := Identity().Validate(); err != nil {
		t.Errorf("Identity().Validate() = %v", err)
	}
	m := Identity()
	m[3] = 0.5
	if err := m.Validate(); err == nil {
		t.Error("expected error for non-affine bottom row")
	}
	m = Identity()
	m[12] = math.Inf(-1)
	if err := m.Validate(); !errors.Is(err, ErrNonFinite) {
		t.Errorf("Validate() = %v, want ErrNonFinite", err)
	}
}

func TestRounded(t *testing.T) {
	m := Identity()
	m[12] = 0.1234567
	m[13] = -0.0000001
	m[14] = 2.9999996
	r := m.Rounded(6)
	if r[12] != 0.123457 {
		t.Errorf("r[12] = %v, want 0.123457", r[12])
	}
	if r[13] != 0 || math.Signbit(r[13]) {
		t.Errorf("r[13] = %v, want +0", r[13])
	}
	if r[14] != 3 {
		t.Errorf("r[14] = %v, want 3", r[14])
	}
}

func TestMat4_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
		want12  float64
	}{
		{"numbers", `[1,0,0,0,0,1,0,0,0,0,1,0,2.5,0,0,1]`, false, 2.5},
		{"strings", `["1.000000","0","0","0","0","1","0","0","0","0","1","0"," -4.25 ","0","0","1"]`, false, -4.25},
		{"mixed", `[1,"0",0,0,0,1,0,0,0,0,1,0,"7",0,0,1]`, false, 7},
		{"short", `[1,0,0,0]`, true, 0},
		{"garbage", `[1,0,0,0,0,1,0,0,0,0,1,0,"x",0,0,1]`, true, 0},
		{"object", `{"a":1}`, true, 0},
		{"null entry", `[1,0,0,0,0,1,0,0,0,0,1,0,null,0,0,1]`, true, 0},
		{"null string", `[1,0,0,0,0,1,0,0,0,0,1,0,"",0,0,1]`, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Mat4
			err := json.Unmarshal([]byte(tt.in), &m)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && m[12] != tt.want12 {
				t.Errorf("m[12] = %v, want %v", m[12], tt.want12)
			}
		})
	}
}

func TestMat4_MarshalIsFlatArray(t *testing.T) {
	b, err := json.Marshal(Identity())
	testutil.AssertNoError(t, err)
	if string(b) != `[1,0,0,0,0,1,0,0,0,0,1,0,0,0,0,1]` {
		t.Errorf("Marshal = %s", b)
	}
}

func TestParamsFromMatrix_RoundTrip(t *testing.T) {
	base := baseAboutY(30)
	base.Translation = r3.Vec{X: 1, Y: 2, Z: 3}
	want := Params{
		Base:        base,
		RotationDeg: Euler{X: 10, Y: 20, Z: 30},
		Translation: r3.Vec{X: 0.5, Y: -1, Z: 2},
		Scale:       1.5,
	}
	m, err := Compose(want)
	testutil.AssertNoError(t, err)

	got, err := ParamsFromMatrix(m, base)
	testutil.AssertNoError(t, err)
	testutil.AssertNear(t, "Scale", got.Scale, 1.5, 1e-9)
	testutil.AssertVecNear(t, got.Translation, want.Translation, 1e-9)
	testutil.AssertNear(t, "RotationDeg.X", got.RotationDeg.X, 10, 1e-7)
	testutil.AssertNear(t, "RotationDeg.Y", got.RotationDeg.Y, 20, 1e-7)
	testutil.AssertNear(t, "RotationDeg.Z", got.RotationDeg.Z, 30, 1e-7)

	again, err := Compose(got)
	testutil.AssertNoError(t, err)
	testutil.AssertSliceNear(t, again[:], m[:], 1e-9)
}

func TestParamsFromMatrix_ZeroScale(t *testing.T) {
	m, _ := Compose(Params{Scale: 0})
	if _, err := ParamsFromMatrix(m, nil); !errors.Is(err, ErrSingular) {
		t.Errorf("ParamsFromMatrix() error = %v, want ErrSingular", err)
	}
}

func TestPointSize(t *testing.T) {
	testutil.AssertNear(t, "PointSize", PointSize(2), 0.1, 1e-12)
	m, _ := Compose(Params{RotationDeg: Euler{Z: 45}, Scale: 2})
	testutil.AssertNear(t, "ViewerPointSize", ViewerPointSize(m), 0.06, 1e-12)
}

func TestString(t *testing.T) {
	s := Identity().String()
	want := "Matrix4: 1.000000, 0.000000, 0.000000, 0.000000, 0.000000, 1.000000, 0.000000, 0.000000, 0.000000, 0.000000, 1.000000, 0.000000, 0.000000, 0.000000, 0.000000, 1.000000"
	if s != want {
		t.Errorf("String() = %q", s)
	}
}
