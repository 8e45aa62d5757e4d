// Package imaging owns the decoded images of a connection and the pixel
// transforms that the workers apply to them.
//
// # Store
//
// Store maps integer handles to decoded images. Handle 0 is never assigned
// and acts as the "no image" value on the wire. Handles 1 through
// RegisteredCapacity are handed out, in order, to images registered by the
// client; handles above that range are minted for transform results that do
// not overwrite their source. Handles are never reused: an emptied handle
// simply stays empty.
//
// # Thread Safety
//
// Store is safe for concurrent use. Its lock covers only the handle table,
// never the transforms, so a slow kernel on one worker does not hold up
// lookups or inserts from another. Images are immutable once stored; a
// transform always produces a new Image.
//
// # Codec
//
// Codec converts between payload bytes and Images. BMPCodec decodes BMP,
// PNG, JPEG and GIF payloads and encodes results as BMP. An Image remembers
// the bytes it was decoded from, so retrieving an untouched image returns
// exactly what was registered.
//
// # Kernels
//
// A Kernel is a function from image to image that may fail. The package
// provides rotation, blur, sharpen and directional edge detection kernels.
// Apply wraps a kernel so that empty inputs and panics become errors.
package imaging
