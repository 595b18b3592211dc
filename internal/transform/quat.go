package transform

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Calibration files store rotations as [w, x, y, z]. In memory a rotation is
// a gonum quat.Number where Real is w and Imag/Jmag/Kmag are x/y/z. Every
// conversion between the two goes through QuatFromWXYZ / WXYZ; never copy
// the array components positionally.

// QuatFromWXYZ converts a persisted [w, x, y, z] quaternion.
func QuatFromWXYZ(a [4]float64) quat.Number {
	return quat.Number{Real: a[0], Imag: a[1], Jmag: a[2], Kmag: a[3]}
}

// WXYZ returns q in persisted [w, x, y, z] order.
func WXYZ(q quat.Number) [4]float64 {
	return [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag}
}

// QuatFromXYZW converts an [x, y, z, w] quaternion, the storage order used
// by most rendering libraries.
func QuatFromXYZW(a [4]float64) quat.Number {
	return quat.Number{Real: a[3], Imag: a[0], Jmag: a[1], Kmag: a[2]}
}

// XYZW returns q in [x, y, z, w] order.
func XYZW(q quat.Number) [4]float64 {
	return [4]float64{q.Imag, q.Jmag, q.Kmag, q.Real}
}

// Normalize scales q to unit length. The zero quaternion becomes identity.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

// axisAngle returns the unit quaternion for a rotation of rad about axis.
func axisAngle(axis r3.Vec, rad float64) quat.Number {
	return quat.Number(r3.NewRotation(rad, axis))
}

// EulerXYZ returns the rotation for intrinsic X, then Y, then Z angles in
// radians (R = Rx·Ry·Rz).
func EulerXYZ(x, y, z float64) quat.Number {
	qx := axisAngle(r3.Vec{X: 1}, x)
	qy := axisAngle(r3.Vec{Y: 1}, y)
	qz := axisAngle(r3.Vec{Z: 1}, z)
	return quat.Mul(quat.Mul(qx, qy), qz)
}

// EulerXYZFromQuat inverts EulerXYZ, returning radians. Near gimbal lock
// (|pitch| ≈ 90°) the Z angle is folded into X.
func EulerXYZFromQuat(q quat.Number) (x, y, z float64) {
	m := RotationMatrix(Normalize(q))
	m11, m12, m13 := m[0], m[1], m[2]
	m22, m23 := m[4], m[5]
	m32, m33 := m[7], m[8]

	y = math.Asin(clamp(m13, -1, 1))
	if math.Abs(m13) < 0.9999999 {
		x = math.Atan2(-m23, m33)
		z = math.Atan2(-m12, m11)
	} else {
		x = math.Atan2(m32, m22)
		z = 0
	}
	return x, y, z
}

// Rotate applies the rotation q (normalised first) to v.
func Rotate(q quat.Number, v r3.Vec) r3.Vec {
	return r3.Rotation(Normalize(q)).Rotate(v)
}

// RotationMatrix returns the row-major 3x3 rotation matrix of a unit q.
func RotationMatrix(q quat.Number) [9]float64 {
	x, y, z, w := q.Imag, q.Jmag, q.Kmag, q.Real
	xx, yy, zz := x*x, y*y, z*z
	xy, xz, yz := x*y, x*z, y*z
	wx, wy, wz := w*x, w*y, w*z

	return [9]float64{
		1 - 2*(yy+zz), 2 * (xy - wz), 2 * (xz + wy),
		2 * (xy + wz), 1 - 2*(xx+zz), 2 * (yz - wx),
		2 * (xz - wy), 2 * (yz + wx), 1 - 2*(xx+yy),
	}
}

// QuatFromRotationMatrix converts a row-major 3x3 pure rotation.
func QuatFromRotationMatrix(m [9]float64) quat.Number {
	m11, m12, m13 := m[0], m[1], m[2]
	m21, m22, m23 := m[3], m[4], m[5]
	m31, m32, m33 := m[6], m[7], m[8]

	var q quat.Number
	switch trace := m11 + m22 + m33; {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1)
		q = quat.Number{
			Real: 0.25 / s,
			Imag: (m32 - m23) * s,
			Jmag: (m13 - m31) * s,
			Kmag: (m21 - m12) * s,
		}
	case m11 > m22 && m11 > m33:
		s := 2 * math.Sqrt(1+m11-m22-m33)
		q = quat.Number{
			Real: (m32 - m23) / s,
			Imag: 0.25 * s,
			Jmag: (m12 + m21) / s,
			Kmag: (m13 + m31) / s,
		}
	case m22 > m33:
		s := 2 * math.Sqrt(1+m22-m11-m33)
		q = quat.Number{
			Real: (m13 - m31) / s,
			Imag: (m12 + m21) / s,
			Jmag: 0.25 * s,
			Kmag: (m23 + m32) / s,
		}
	default:
		s := 2 * math.Sqrt(1+m33-m11-m22)
		q = quat.Number{
			Real: (m21 - m12) / s,
			Imag: (m13 + m31) / s,
			Jmag: (m23 + m32) / s,
			Kmag: 0.25 * s,
		}
	}
	return Normalize(q)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
