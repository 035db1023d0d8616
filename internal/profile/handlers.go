package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/foyerhq/foyer/internal/identity"
	"github.com/foyerhq/foyer/internal/store"
)

const (
	// MaxImageBytes caps profile image uploads.
	MaxImageBytes = 2 << 20 // 2 MiB

	maxBioLength = 500
)

var (
	usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,30}$`)

	allowedImageExts = map[string]bool{
		".jpg":  true,
		".jpeg": true,
		".png":  true,
	}
)

// Handlers serves profile viewing and editing.
type Handlers struct {
	registry  *store.Registry
	imagesDir string
}

// NewHandlers wires the profile endpoints. Uploaded images are stored under
// imagesDir, which is created on first use.
func NewHandlers(reg *store.Registry, imagesDir string) *Handlers {
	return &Handlers{registry: reg, imagesDir: imagesDir}
}

type updateProfileRequest struct {
	Username *string `json:"username"`
	Bio      *string `json:"bio"`
}

type profileResponse struct {
	Username     string `json:"username"`
	Bio          string `json:"bio"`
	ProfileImage string `json:"profile_image,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func profileView(acct *store.Account) profileResponse {
	resp := profileResponse{
		Username: acct.Username,
		Bio:      acct.Bio,
	}
	if acct.ProfileImage != "" {
		resp.ProfileImage = "/profile-images/" + acct.ProfileImage
	}
	return resp
}

// HandleGetProfile returns the public profile for the username in the URL.
func (h *Handlers) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.PathValue("username"))
	acct, err := h.registry.GetAccountByUsername(username)
	if err != nil {
		log.Error().Err(err).Str("username", username).Msg("Failed to load profile")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load profile")
		return
	}
	if acct == nil {
		writeError(w, http.StatusNotFound, "not_found", "No such profile")
		return
	}
	writeJSON(w, http.StatusOK, profileView(acct))
}

// HandleUpdateProfile changes the authenticated account's username or bio.
// Absent fields are left untouched.
func (h *Handlers) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	acct := identity.AccountFromContext(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "Authentication required")
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid JSON body")
		return
	}

	username := acct.Username
	if req.Username != nil {
		username = strings.TrimSpace(*req.Username)
		if !usernameRe.MatchString(username) {
			writeError(w, http.StatusBadRequest, "invalid_username", "Username must be 3-30 characters: letters, digits, . _ -")
			return
		}
	}
	bio := acct.Bio
	if req.Bio != nil {
		bio = strings.TrimSpace(*req.Bio)
		if len(bio) > maxBioLength {
			writeError(w, http.StatusBadRequest, "bio_too_long", fmt.Sprintf("Bio must be at most %d characters", maxBioLength))
			return
		}
	}

	if err := h.registry.UpdateProfile(acct.ID, username, bio, acct.ProfileImage); err != nil {
		if store.IsUniqueViolation(err) {
			writeError(w, http.StatusConflict, "username_taken", "That username is already taken")
			return
		}
		log.Error().Err(err).Str("accountId", acct.ID).Msg("Failed to update profile")
		writeError(w, http.StatusInternalServerError, "internal_error", "Profile update failed")
		return
	}

	acct.Username = username
	acct.Bio = bio
	writeJSON(w, http.StatusOK, profileView(acct))
}

// HandleUploadImage replaces the authenticated account's profile image. The
// upload is a multipart form with an "image" file field; only jpg/jpeg/png
// are accepted and files are renamed to random names on disk.
func (h *Handlers) HandleUploadImage(w http.ResponseWriter, r *http.Request) {
	acct := identity.AccountFromContext(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "Authentication required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxImageBytes+64*1024)
	if err := r.ParseMultipartForm(MaxImageBytes); err != nil {
		writeError(w, http.StatusBadRequest, "bad_upload", "Image upload must be a multipart form of at most 2 MiB")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_upload", "An \"image\" file field is required")
		return
	}
	defer file.Close()

	filename, err := h.storeImage(file, header)
	if err != nil {
		var badExt *unsupportedImageError
		if errors.As(err, &badExt) {
			writeError(w, http.StatusBadRequest, "unsupported_type", badExt.Error())
			return
		}
		if errors.Is(err, errImageTooLarge) {
			writeError(w, http.StatusBadRequest, "image_too_large", "Image must be at most 2 MiB")
			return
		}
		log.Error().Err(err).Str("accountId", acct.ID).Msg("Failed to store profile image")
		writeError(w, http.StatusInternalServerError, "internal_error", "Image upload failed")
		return
	}

	previous := acct.ProfileImage
	if err := h.registry.UpdateProfile(acct.ID, acct.Username, acct.Bio, filename); err != nil {
		_ = os.Remove(filepath.Join(h.imagesDir, filename))
		log.Error().Err(err).Str("accountId", acct.ID).Msg("Failed to persist profile image")
		writeError(w, http.StatusInternalServerError, "internal_error", "Image upload failed")
		return
	}
	h.removeStoredImage(previous)

	acct.ProfileImage = filename
	writeJSON(w, http.StatusOK, profileView(acct))
}

// HandleDeleteImage removes the authenticated account's profile image.
// Deleting when no image is set is a no-op success.
func (h *Handlers) HandleDeleteImage(w http.ResponseWriter, r *http.Request) {
	acct := identity.AccountFromContext(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "Authentication required")
		return
	}

	previous := acct.ProfileImage
	if previous != "" {
		if err := h.registry.UpdateProfile(acct.ID, acct.Username, acct.Bio, ""); err != nil {
			log.Error().Err(err).Str("accountId", acct.ID).Msg("Failed to clear profile image")
			writeError(w, http.StatusInternalServerError, "internal_error", "Image removal failed")
			return
		}
		h.removeStoredImage(previous)
	}

	acct.ProfileImage = ""
	writeJSON(w, http.StatusOK, profileView(acct))
}

// ServeImage serves a stored profile image by filename. Names are validated
// against the generated-name shape, so no path traversal is possible.
func (h *Handlers) ServeImage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name != filepath.Base(name) || strings.ContainsAny(name, "\\/") {
		http.NotFound(w, r)
		return
	}
	if !allowedImageExts[strings.ToLower(filepath.Ext(name))] {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, filepath.Join(h.imagesDir, name))
}

var errImageTooLarge = errors.New("image exceeds the size limit")

type unsupportedImageError struct {
	ext string
}

func (e *unsupportedImageError) Error() string {
	return fmt.Sprintf("unsupported image type %q: use jpg, jpeg, or png", e.ext)
}

func (h *Handlers) storeImage(file multipart.File, header *multipart.FileHeader) (string, error) {
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedImageExts[ext] {
		return "", &unsupportedImageError{ext: ext}
	}

	if err := os.MkdirAll(h.imagesDir, 0o755); err != nil {
		return "", fmt.Errorf("create images dir: %w", err)
	}
	filename := uuid.NewString() + ext
	dst, err := os.OpenFile(filepath.Join(h.imagesDir, filename), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create image file: %w", err)
	}
	defer dst.Close()

	// Read one byte past the limit so an over-sized file is rejected rather
	// than silently truncated to a corrupt image.
	written, err := io.Copy(dst, io.LimitReader(file, MaxImageBytes+1))
	if err != nil {
		_ = os.Remove(dst.Name())
		return "", fmt.Errorf("write image file: %w", err)
	}
	if written > MaxImageBytes {
		_ = os.Remove(dst.Name())
		return "", errImageTooLarge
	}
	return filename, nil
}

func (h *Handlers) removeStoredImage(filename string) {
	if filename == "" {
		return
	}
	if err := os.Remove(filepath.Join(h.imagesDir, filename)); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("file", filename).Msg("Failed to remove old profile image")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}
