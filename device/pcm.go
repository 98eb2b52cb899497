package device

// swap16 converts 16-bit samples between little- and big-endian in place.
// A trailing odd byte is left untouched.
func swap16(b []byte) {
	for i := 0; i+1 < len(b); i += 2 {
		b[i], b[i+1] = b[i+1], b[i]
	}
}

// fromNative converts device-native (little-endian) samples to the format's byte order.
func fromNative(f Format, b []byte) {
	if f.BigEndian {
		swap16(b)
	}
}

// toNative is the inverse of fromNative.
func toNative(f Format, b []byte) {
	if f.BigEndian {
		swap16(b)
	}
}
