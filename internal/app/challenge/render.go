/*
Package challenge implements the human-verification puzzles the gate issues to
unverified users.

This file defines the Renderer boundary, a pure function from a difficulty flag
to an image and its expected answer, together with the default PNG renderer.
The default renderer draws the answer from an ambiguity-free character set onto
a noisy bitmap; the harder variant uses a longer answer and heavier distortion.
*/
package challenge

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand/v2"

	"sogsgate/internal/pkg/randx"
)

const (
	// EasyAnswerLength is the answer length for the standard puzzle.
	EasyAnswerLength = 4

	// DifficultAnswerLength is the answer length for the harder puzzle variant.
	DifficultAnswerLength = 6

	// glyph cell geometry, in font units before scaling.
	glyphWidth  = 5
	glyphHeight = 7
	glyphScale  = 6
	cellPadding = 2
)

// Puzzle is a rendered verification challenge.
type Puzzle struct {
	// Answer is the expected plain-text solution, compared case-insensitively.
	Answer string

	// Image is the PNG-encoded puzzle image.
	Image []byte
}

// Renderer produces a puzzle for the given difficulty. Implementations must be
// pure: no side effects beyond consuming randomness.
type Renderer interface {
	Render(difficult bool) (*Puzzle, error)
}

// PNGRenderer is the default Renderer. The zero value is ready to use.
type PNGRenderer struct{}

// Render generates a fresh answer and draws it as a distorted PNG.
func (PNGRenderer) Render(difficult bool) (*Puzzle, error) {
	length := EasyAnswerLength
	if difficult {
		length = DifficultAnswerLength
	}

	answer, err := randx.Answer(length)
	if err != nil {
		return nil, err
	}

	img, err := drawAnswer(answer, difficult)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode puzzle image: %w", err)
	}

	return &Puzzle{Answer: answer, Image: buf.Bytes()}, nil
}

// drawAnswer renders the answer text with per-glyph vertical jitter, pixel
// noise, and (for the difficult variant) strike-through lines.
func drawAnswer(answer string, difficult bool) (*image.RGBA, error) {
	cellW := (glyphWidth + cellPadding) * glyphScale
	width := cellW*len(answer) + cellPadding*glyphScale
	height := (glyphHeight + 2*cellPadding) * glyphScale

	img := image.NewRGBA(image.Rect(0, 0, width, height))

	background := color.RGBA{R: 0xee, G: 0xee, B: 0xe6, A: 0xff}
	ink := color.RGBA{R: 0x20, G: 0x24, B: 0x2c, A: 0xff}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, background)
		}
	}

	for i, ch := range answer {
		glyph, ok := glyphs[ch]
		if !ok {
			return nil, fmt.Errorf("no glyph for answer character %q", ch)
		}

		originX := cellPadding*glyphScale + i*cellW
		originY := cellPadding*glyphScale + (rand.IntN(2*cellPadding+1)-cellPadding)*glyphScale/2

		for row := 0; row < glyphHeight; row++ {
			bits := glyph[row]
			for col := 0; col < glyphWidth; col++ {
				if bits&(1<<(glyphWidth-1-col)) == 0 {
					continue
				}
				for dy := 0; dy < glyphScale; dy++ {
					for dx := 0; dx < glyphScale; dx++ {
						img.SetRGBA(originX+col*glyphScale+dx, originY+row*glyphScale+dy, ink)
					}
				}
			}
		}
	}

	noise := width * height / 40
	if difficult {
		noise *= 3
	}
	for i := 0; i < noise; i++ {
		img.SetRGBA(rand.IntN(width), rand.IntN(height), ink)
	}

	if difficult {
		for i := 0; i < 2; i++ {
			y := rand.IntN(height-2) + 1
			for x := 0; x < width; x++ {
				img.SetRGBA(x, y+rand.IntN(3)-1, ink)
			}
		}
	}

	return img, nil
}

// glyphs holds a 5x7 bitmap for every character in randx.AnswerChars.
// Each row is five bits, most significant bit leftmost.
var glyphs = map[rune][glyphHeight]uint8{
	'3': {0b11110, 0b00001, 0b00001, 0b01110, 0b00001, 0b00001, 0b11110},
	'4': {0b00010, 0b00110, 0b01010, 0b10010, 0b11111, 0b00010, 0b00010},
	'6': {0b01110, 0b10000, 0b10000, 0b11110, 0b10001, 0b10001, 0b01110},
	'7': {0b11111, 0b00001, 0b00010, 0b00100, 0b01000, 0b01000, 0b01000},
	'9': {0b01110, 0b10001, 0b10001, 0b01111, 0b00001, 0b00001, 0b01110},
	'A': {0b01110, 0b10001, 0b10001, 0b11111, 0b10001, 0b10001, 0b10001},
	'C': {0b01110, 0b10001, 0b10000, 0b10000, 0b10000, 0b10001, 0b01110},
	'D': {0b11110, 0b10001, 0b10001, 0b10001, 0b10001, 0b10001, 0b11110},
	'E': {0b11111, 0b10000, 0b10000, 0b11110, 0b10000, 0b10000, 0b11111},
	'F': {0b11111, 0b10000, 0b10000, 0b11110, 0b10000, 0b10000, 0b10000},
	'H': {0b10001, 0b10001, 0b10001, 0b11111, 0b10001, 0b10001, 0b10001},
	'J': {0b00111, 0b00010, 0b00010, 0b00010, 0b00010, 0b10010, 0b01100},
	'K': {0b10001, 0b10010, 0b10100, 0b11000, 0b10100, 0b10010, 0b10001},
	'L': {0b10000, 0b10000, 0b10000, 0b10000, 0b10000, 0b10000, 0b11111},
	'M': {0b10001, 0b11011, 0b10101, 0b10101, 0b10001, 0b10001, 0b10001},
	'N': {0b10001, 0b11001, 0b10101, 0b10011, 0b10001, 0b10001, 0b10001},
	'P': {0b11110, 0b10001, 0b10001, 0b11110, 0b10000, 0b10000, 0b10000},
	'Q': {0b01110, 0b10001, 0b10001, 0b10001, 0b10101, 0b10010, 0b01101},
	'R': {0b11110, 0b10001, 0b10001, 0b11110, 0b10100, 0b10010, 0b10001},
	'T': {0b11111, 0b00100, 0b00100, 0b00100, 0b00100, 0b00100, 0b00100},
	'U': {0b10001, 0b10001, 0b10001, 0b10001, 0b10001, 0b10001, 0b01110},
	'V': {0b10001, 0b10001, 0b10001, 0b10001, 0b10001, 0b01010, 0b00100},
	'W': {0b10001, 0b10001, 0b10001, 0b10101, 0b10101, 0b11011, 0b10001},
	'X': {0b10001, 0b01010, 0b00100, 0b00100, 0b00100, 0b01010, 0b10001},
	'Y': {0b10001, 0b10001, 0b01010, 0b00100, 0b00100, 0b00100, 0b00100},
}
