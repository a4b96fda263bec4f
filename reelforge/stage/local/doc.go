// Package local provides offline generation collaborators that write
// placeholder media to a directory. They back the render command and local
// development; production deployments plug real providers into stage.
package local
