// Package models knows which files make up each preset model, checks them on
// disk, and downloads missing ones.
package models

import (
	"errors"
	"fmt"
	"slices"
)

// DefaultModel is the preset used when none is configured.
const DefaultModel = "z-image-turbo"

// ErrUnknownModel is returned for a model name with no preset manifest.
var ErrUnknownModel = errors.New("unknown model")

// File is one required file of a preset model.
type File struct {
	Name   string
	SHA256 string // lower-case hex
}

// Presets maps a model name to its files, in download order.
var Presets = map[string][]File{
	"z-image-turbo": {
		{"merges.txt", "0de0bc38a29ea38eef099b677fa1ff52edd181e573529af26c4cd2136e233777"},
		{"vocab.txt", "6b3cf6583d96d9ed8afe6baf95385002fe355ba15ef5c76081a4bbd564c0c112"},
		{"z_image_turbo_text_encoder.ncnn.bin", "d05f6442e019311e5742c3d0a00e48d4f27bedfe5e32d82483536c427b1169a3"},
		{"z_image_turbo_text_encoder.ncnn.param", "b7c4dca55ef07d6c63fc049c70ac434b8f0637588d9022318b33bc65312d82a2"},
		{"z_image_turbo_transformer_all_final_layer.ncnn.bin", "812a0b0d09e9e5df0e536fa3de35387a2e6eac862a34242e73f97a3c1612a904"},
		{"z_image_turbo_transformer_all_final_layer.ncnn.param", "4488e4e204071325755b8b4667e377e7fdbd33575f77d5335edcb8583d4434c3"},
		{"z_image_turbo_transformer_all_x_embedder.ncnn.bin", "b0847e5dcf43493c7297c17a252ee0d0754c82eebf24ad8771a21c18e978eeb8"},
		{"z_image_turbo_transformer_all_x_embedder.ncnn.param", "c443890d2e2e500f2e00a7d224637ffd5de687349f31df1f77d3e15667ad9d65"},
		{"z_image_turbo_transformer_cap_embedder.ncnn.bin", "f2698b2f2d3e27c243e7ab4aea907e67bf3a67c456d1df4bd7d4538d2db7eb0c"},
		{"z_image_turbo_transformer_cap_embedder.ncnn.param", "de682637f82faa64ff06d519e204d20638e2b54b74e5a4b511b646aa2d0de7b6"},
		{"z_image_turbo_transformer_context_refiner.ncnn.bin", "282e4f405fcef10d68a8dbb2f98acb7e9df3ebbb753680c810afb971449babc6"},
		{"z_image_turbo_transformer_context_refiner.ncnn.param", "733a6699fb71bfacfcf95067c51898c2bdee3432dcfe15315300f08374c4358f"},
		{"z_image_turbo_transformer_noise_refiner.ncnn.bin", "a7551d2a111629d9acbc700a2e227fc149756bcb78876bfc20ec91f0a71d448c"},
		{"z_image_turbo_transformer_noise_refiner.ncnn.param", "edf024b5db5f7d2ddf070730e38206c5dc8d59a81738d7b302655a65eb64c771"},
		{"z_image_turbo_transformer_t_embedder.ncnn.bin", "767dd2f15c30b338d7b4c11d60cccbfa168d289342d9e59cec23acd8d33167d9"},
		{"z_image_turbo_transformer_t_embedder.ncnn.param", "c8f95f56f405d887bcf32a84a6a31849226431ae8c836ee2a1d357457f8bb3d3"},
		{"z_image_turbo_transformer_unified.ncnn.bin", "2679209399fd9e9347d28ac0111b5364d2f90cf4920d53193f38f8d12259ef8e"},
		{"z_image_turbo_transformer_unified.ncnn.param", "7bbfee1ebf4ee67b10cafbf9a9d5cf3d0d2e7ef5785c8b6983ecf02ab15cd875"},
		{"z_image_turbo_vae.ncnn.bin", "c2e75324fc9912f0c8b2d88c18e97f9a165e15d33a2d1d551a8e20db8c9e893e"},
		{"z_image_turbo_vae.ncnn.param", "1fe834872e7fd4ab537d2e3cdd8451f974ab3d0fb25e22bf1f406c2ea62eb74a"},
	},
}

// Lookup returns the manifest for name.
func Lookup(name string) ([]File, error) {
	files, ok := Presets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return files, nil
}

// Names returns the preset model names, sorted.
func Names() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
