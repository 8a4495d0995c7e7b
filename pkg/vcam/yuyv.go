package vcam

// RGBAToYUYV converts packed RGBA to YUYV 4:2:2 using BT.601 limited range.
// dst must hold width*height*2 bytes and width must be even.
func RGBAToYUYV(dst, rgba []byte, width, height int) {
	for y := 0; y < height; y++ {
		src := rgba[y*width*4 : (y+1)*width*4]
		out := dst[y*width*2 : (y+1)*width*2]
		for x := 0; x+1 < width; x += 2 {
			r0, g0, b0 := int32(src[x*4]), int32(src[x*4+1]), int32(src[x*4+2])
			r1, g1, b1 := int32(src[x*4+4]), int32(src[x*4+5]), int32(src[x*4+6])

			y0 := luma(r0, g0, b0)
			y1 := luma(r1, g1, b1)
			r, g, b := (r0+r1)/2, (g0+g1)/2, (b0+b1)/2
			u := clamp8(((-38*r - 74*g + 112*b + 128) >> 8) + 128)
			v := clamp8(((112*r - 94*g - 18*b + 128) >> 8) + 128)

			out[x*2] = y0
			out[x*2+1] = u
			out[x*2+2] = y1
			out[x*2+3] = v
		}
	}
}

func luma(r, g, b int32) byte {
	return clamp8(((66*r + 129*g + 25*b + 128) >> 8) + 16)
}

func clamp8(v int32) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
