package loaders

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/anima/engine/animation"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/math"
	"github.com/spaghettifunk/anima/engine/skeleton"
	"gopkg.in/yaml.v3"
)

type Format int

const (
	FormatTOML Format = iota
	FormatYAML
)

func (f Format) String() string {
	if f == FormatYAML {
		return "yaml"
	}
	return "toml"
}

// FormatFromPath picks the rig format from the file extension.
func FormatFromPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, true
	case ".yaml", ".yml":
		return FormatYAML, true
	}
	return FormatTOML, false
}

// RigFile is the on-disk description of a skeleton and its animations. A
// file without bones only carries animations for the skeleton it names.
type RigFile struct {
	Name       string           `toml:"name,omitempty" yaml:"name,omitempty"`
	Skeleton   string           `toml:"skeleton,omitempty" yaml:"skeleton,omitempty"`
	Bones      []BoneEntry      `toml:"bones,omitempty" yaml:"bones,omitempty"`
	Animations []AnimationEntry `toml:"animations,omitempty" yaml:"animations,omitempty"`
}

type BoneEntry struct {
	Name        string     `toml:"name" yaml:"name"`
	Parent      string     `toml:"parent,omitempty" yaml:"parent,omitempty"`
	Translation [3]float32 `toml:"translation" yaml:"translation"`
	// x, y, z, w. Omitted reads as identity.
	Rotation *[4]float32 `toml:"rotation,omitempty" yaml:"rotation,omitempty"`
	Length   float32     `toml:"length,omitempty" yaml:"length,omitempty"`
}

type AnimationEntry struct {
	Name     string       `toml:"name" yaml:"name"`
	Duration float32      `toml:"duration" yaml:"duration"`
	Tracks   []TrackEntry `toml:"tracks" yaml:"tracks"`
}

type TrackEntry struct {
	Bone      string          `toml:"bone" yaml:"bone"`
	Keyframes []KeyframeEntry `toml:"keyframes" yaml:"keyframes"`
}

type KeyframeEntry struct {
	Time        float32     `toml:"time" yaml:"time"`
	Translation [3]float32  `toml:"translation" yaml:"translation"`
	Rotation    *[4]float32 `toml:"rotation,omitempty" yaml:"rotation,omitempty"`
}

// rotation reads an optional x, y, z, w quaternion. A zero quaternion is
// not a rotation; it is read as identity with a warning naming where.
func rotation(r *[4]float32, where string) math.Quaternion {
	if r == nil {
		return math.NewQuatIdentity()
	}
	if *r == [4]float32{} {
		core.LogWarn("%s has a zero rotation quaternion, using identity", where)
		return math.NewQuatIdentity()
	}
	return math.NewQuatFromArray(*r)
}

func rotationArray(q math.Quaternion) *[4]float32 {
	a := q.Array()
	return &a
}

// SkeletonName returns the skeleton the file defines or animates.
func (r *RigFile) SkeletonName() string {
	if len(r.Bones) > 0 || r.Skeleton == "" {
		return r.Name
	}
	return r.Skeleton
}

// HasSkeleton reports whether the file defines bones.
func (r *RigFile) HasSkeleton() bool {
	return len(r.Bones) > 0
}

// BuildSkeleton creates the frozen skeleton described by the file.
func (r *RigFile) BuildSkeleton() (*skeleton.CoreSkeleton, error) {
	if !r.HasSkeleton() {
		return nil, fmt.Errorf("rig '%s' has no bones: %w", r.Name, core.ErrUnknownAsset)
	}
	b := skeleton.NewBuilder(r.Name)
	for _, bone := range r.Bones {
		b.Add(skeleton.BoneSpec{
			Name:        bone.Name,
			Parent:      bone.Parent,
			Rotation:    rotation(bone.Rotation, fmt.Sprintf("rig '%s' bone '%s'", r.Name, bone.Name)),
			Translation: math.NewVec3FromArray(bone.Translation),
			Length:      bone.Length,
		})
	}
	return b.Build()
}

/**
 * @brief Creates and validates the animations of the file against skel.
 * Tracks for bones the skeleton does not have are skipped with a warning.
 */
func (r *RigFile) BuildAnimations(skel *skeleton.CoreSkeleton, policy animation.DurationPolicy) ([]*animation.CoreAnimation, error) {
	anims := make([]*animation.CoreAnimation, 0, len(r.Animations))
	for _, entry := range r.Animations {
		anim, err := animation.NewCoreAnimation(entry.Name, entry.Duration)
		if err != nil {
			return nil, err
		}
		for _, te := range entry.Tracks {
			boneID, ok := skel.BoneID(te.Bone)
			if !ok {
				core.LogWarn("animation '%s' has a track for bone '%s' which is not in skeleton '%s', skipping it", entry.Name, te.Bone, skel.Name())
				continue
			}
			track := animation.NewCoreTrack(boneID)
			for _, ke := range te.Keyframes {
				where := fmt.Sprintf("animation '%s' bone '%s' keyframe at %f", entry.Name, te.Bone, ke.Time)
				kf := animation.NewKeyframe(ke.Time, rotation(ke.Rotation, where), math.NewVec3FromArray(ke.Translation))
				if err := track.AddKeyframe(kf); err != nil {
					return nil, fmt.Errorf("animation '%s': %w", entry.Name, err)
				}
			}
			if err := anim.AddTrack(track); err != nil {
				return nil, err
			}
		}
		if err := anim.Validate(policy); err != nil {
			return nil, err
		}
		anims = append(anims, anim)
	}
	return anims, nil
}

// NewRigFile describes skel and anims so they can be written to disk.
func NewRigFile(skel *skeleton.CoreSkeleton, anims ...*animation.CoreAnimation) *RigFile {
	r := &RigFile{Name: skel.Name()}
	for _, b := range skel.Bones() {
		parent := ""
		if !b.IsRoot() {
			p, _ := skel.Bone(b.ParentID())
			parent = p.Name()
		}
		r.Bones = append(r.Bones, BoneEntry{
			Name:        b.Name(),
			Parent:      parent,
			Translation: b.Translation().Array(),
			Rotation:    rotationArray(b.Rotation()),
			Length:      b.Length(),
		})
	}
	for _, a := range anims {
		entry := AnimationEntry{Name: a.Name(), Duration: a.Duration()}
		for _, t := range a.Tracks() {
			bone, err := skel.Bone(t.BoneID())
			if err != nil {
				continue
			}
			te := TrackEntry{Bone: bone.Name()}
			for _, k := range t.Keyframes() {
				te.Keyframes = append(te.Keyframes, KeyframeEntry{
					Time:        k.Time,
					Translation: k.Translation.Array(),
					Rotation:    rotationArray(k.Rotation),
				})
			}
			entry.Tracks = append(entry.Tracks, te)
		}
		r.Animations = append(r.Animations, entry)
	}
	return r
}

// DecodeRig parses a rig, rejecting unknown fields.
func DecodeRig(data []byte, format Format) (*RigFile, error) {
	rig := &RigFile{}
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(rig); err != nil {
			return nil, err
		}
	default:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(rig); err != nil {
			return nil, err
		}
	}
	if rig.Name == "" && rig.Skeleton == "" {
		return nil, fmt.Errorf("rig has neither name nor skeleton: %w", core.ErrEmptyName)
	}
	return rig, nil
}

func EncodeRig(rig *RigFile, format Format) ([]byte, error) {
	if format == FormatYAML {
		return yaml.Marshal(rig)
	}
	return toml.Marshal(rig)
}

// RigLoader reads rig files of one format.
type RigLoader struct {
	Format Format
}

func (rl *RigLoader) Load(path string, params interface{}) (*Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rig, err := DecodeRig(data, rl.Format)
	if err != nil {
		return nil, fmt.Errorf("load %s rig '%s': %w", rl.Format, path, err)
	}
	return &Resource{
		Name:     rig.SkeletonName(),
		FullPath: path,
		DataSize: uint64(len(data)),
		Data:     rig,
	}, nil
}

func (rl *RigLoader) Unload(*Resource) error {
	return nil
}
