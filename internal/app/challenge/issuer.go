/*
Package challenge implements the human-verification puzzles the gate issues to
unverified users.

This file defines the Issuer, which turns a rendered puzzle into a host-side
file: it generates the puzzle, uploads the image through the host's correlated
upload command, and resolves with the host-assigned file identifier plus the
expected answer. Exactly one upload command is issued per call.
*/
package challenge

import (
	"context"

	"github.com/rs/zerolog"

	"sogsgate/internal/pkg/logx"
)

// Uploader is the slice of the host channel the Issuer depends on.
type Uploader interface {
	// UploadFile uploads raw bytes and returns the host-assigned file id.
	UploadFile(ctx context.Context, roomToken, uploader string, data []byte) (int64, error)
}

// Issued is the result of a successful challenge issuance.
type Issued struct {
	// FileID is the host-assigned identifier of the uploaded puzzle image.
	FileID int64

	// Answer is the expected solution for the issued puzzle.
	Answer string
}

// Issuer generates puzzles and uploads them through the host.
type Issuer struct {
	renderer Renderer
	uploader Uploader
	logger   zerolog.Logger
}

// NewIssuer constructs an Issuer using the given renderer and host uploader.
func NewIssuer(renderer Renderer, uploader Uploader) *Issuer {
	return &Issuer{
		renderer: renderer,
		uploader: uploader,
		logger:   logx.Component("ChallengeIssuer"),
	}
}

// Issue renders a fresh puzzle for the room and uploads its image under the
// given sender handle. On timeout or upload failure it returns the error
// untouched; no state is recorded, so the caller's prior trust state survives
// for a later retry.
func (i *Issuer) Issue(ctx context.Context, roomToken, uploader string, difficult bool) (*Issued, error) {
	puzzle, err := i.renderer.Render(difficult)
	if err != nil {
		i.logger.Error().Err(err).Str("room_token", roomToken).Msg("Puzzle rendering failed")
		return nil, err
	}

	fileID, err := i.uploader.UploadFile(ctx, roomToken, uploader, puzzle.Image)
	if err != nil {
		i.logger.Warn().Err(err).Str("room_token", roomToken).Msg("Puzzle image upload failed")
		return nil, err
	}

	i.logger.Debug().
		Str("room_token", roomToken).
		Int64("file_id", fileID).
		Int("image_bytes", len(puzzle.Image)).
		Msg("Challenge issued")

	return &Issued{FileID: fileID, Answer: puzzle.Answer}, nil
}
