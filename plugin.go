package kissio

// NamespaceCapability builds the value a plugin contributes to a namespace.
type NamespaceCapability func(ns *Namespace) any

// SocketCapability builds the value a plugin contributes to a socket.
// It is called once per socket, so every socket gets its own value.
type SocketCapability func(s *Socket) any

// Exports is everything a plugin contributes.
type Exports struct {
	Namespace map[string]NamespaceCapability
	Socket    map[string]SocketCapability
	// Router is merged into the namespace router when the plugin is plugged.
	Router *Router
}

// Plugin extends a namespace and every socket that joins it.
type Plugin interface {
	Exports() Exports
}

// PluginConstructor builds a plugin bound to ns.
type PluginConstructor func(ns *Namespace, opts any) Plugin

// BasePlugin holds the namespace and options a plugin was built with.
// Plugins embed it.
type BasePlugin struct {
	namespace *Namespace
	opts      any
}

// NewBasePlugin binds a plugin to ns.
func NewBasePlugin(ns *Namespace, opts any) BasePlugin {
	return BasePlugin{namespace: ns, opts: opts}
}

// Namespace returns the namespace the plugin is bound to.
func (p BasePlugin) Namespace() *Namespace {
	return p.namespace
}

// Options returns the options the plugin was built with.
func (p BasePlugin) Options() any {
	return p.opts
}

func attachToNamespace(p Plugin, ns *Namespace) {
	exports := p.Exports()

	for name, build := range exports.Namespace {
		ns.setCapability(name, build(ns))
	}

	if exports.Router != nil {
		ns.router.Merge(exports.Router)
	}
}

// attachToSocket contributes the socket capabilities. The plugin's routes
// already reached the socket through the namespace router it was cloned from.
func attachToSocket(p Plugin, s *Socket) {
	for name, build := range p.Exports().Socket {
		s.setCapability(name, build(s))
	}
}

// capabilities is the per-target store of plugin contributions.
type capabilities map[string]any
