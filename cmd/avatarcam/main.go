// Command avatarcam turns a webcam feed into an animated avatar published
// as a virtual camera.
//
// Usage:
//
//	avatarcam run                          # everything in one process
//	avatarcam render --relay ws://host:9090/ws/frame
//	avatarcam host --transport ws --listen :9090
//	avatarcam cameras                      # list capture devices
//	avatarcam avatars                      # list avatar templates
package main

func main() {
	Execute()
}
