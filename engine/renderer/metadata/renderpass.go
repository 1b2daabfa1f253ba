package metadata

type AttachmentType uint8

const (
	AttachmentRenderTarget AttachmentType = iota
	AttachmentDepthStencil
	// AttachmentResolve receives the multisample resolve of the render target with
	// the same ordinal.
	AttachmentResolve
)

type LoadOp uint8

const (
	LoadOpLoad LoadOp = iota
	LoadOpClear
	LoadOpDontCare
)

type StoreOp uint8

const (
	StoreOpStore StoreOp = iota
	StoreOpDontCare
)

type RenderPassAttachment struct {
	Type          AttachmentType
	Texture       Handle
	LoadOp        LoadOp
	StoreOp       StoreOp
	InitialLayout Layout
	SubpassLayout Layout
	FinalLayout   Layout
	ClearColor    [4]float32
	ClearDepth    float32
	ClearStencil  uint32
}

type RenderPassDesc struct {
	Name        string
	Attachments []RenderPassAttachment
}

// RenderPassTarget is an attachment with its texture resolved to native objects.
type RenderPassTarget struct {
	Attachment  RenderPassAttachment
	Image       any
	View        any
	Format      Format
	Width       uint32
	Height      uint32
	SampleCount uint32
}
